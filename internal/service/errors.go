package service

import (
	"errors"
	"fmt"

	"paylink/internal/domain"
)

var (
	// ErrPaymentLinkNotFound is returned when the payment link does not exist.
	ErrPaymentLinkNotFound = errors.New("payment link not found")

	// ErrInvalidState is returned when the link cannot accept a payment in its
	// current status or is past expiry.
	ErrInvalidState = errors.New("payment link not in payable state")

	// ErrLockContention is returned when another confirmation for the same link
	// holds the lock. Callers should retry.
	ErrLockContention = errors.New("payment link is being confirmed concurrently")

	// ErrAmountMismatch is returned when the received amount is outside tolerance.
	ErrAmountMismatch = errors.New("received amount outside tolerance")

	// ErrLedgerPosting is returned when a posting could not be written.
	ErrLedgerPosting = errors.New("ledger posting failed")

	// ErrLedgerImbalance is returned in strict mode when debits and credits differ.
	ErrLedgerImbalance = errors.New("ledger balance invariant violated")

	// ErrInvalidPaymentLinkID is returned when payment link ID is empty.
	ErrInvalidPaymentLinkID = errors.New("invalid payment link id")

	// ErrInvalidProvider is returned when the provider is unknown.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidExternalReference is returned when the external reference is empty.
	ErrInvalidExternalReference = errors.New("invalid external reference")

	// ErrInvalidAmount is returned when an amount is missing or not positive.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidCurrency is returned when a currency code is empty.
	ErrInvalidCurrency = errors.New("invalid currency")

	// ErrNotFinalized is returned when a distributed-ledger transaction has not
	// reached a final state.
	ErrNotFinalized = errors.New("transaction not finalized")

	// ErrInvalidTransition is returned when a link status change is not allowed.
	ErrInvalidTransition = errors.New("invalid payment link status transition")

	// ErrInvalidOrganization is returned when the organization ID is empty.
	ErrInvalidOrganization = errors.New("invalid organization id")

	// ErrInvalidExpiry is returned when a new link would already be expired.
	ErrInvalidExpiry = errors.New("expiry must be in the future")

	// ErrRateUnavailable is returned when no FX rate can be determined.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
)

// ErrorKind classifies a rejected confirmation.
type ErrorKind string

const (
	KindNotFound       ErrorKind = "NOT_FOUND"
	KindInvalidState   ErrorKind = "INVALID_STATE"
	KindLockContention ErrorKind = "LOCK_CONTENTION"
	KindAmountMismatch ErrorKind = "AMOUNT_MISMATCH"
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
)

// ConfirmationError is the structured reason returned to an adapter so it can
// decide whether to let the provider retry delivery.
type ConfirmationError struct {
	Kind          ErrorKind
	Reason        string
	CurrentStatus domain.PaymentLinkStatus
	Retryable     bool
	err           error
}

func (e *ConfirmationError) Error() string {
	if e.CurrentStatus != "" {
		return fmt.Sprintf("%s: %s (status %s)", e.err, e.Reason, e.CurrentStatus)
	}
	return fmt.Sprintf("%s: %s", e.err, e.Reason)
}

func (e *ConfirmationError) Unwrap() error {
	return e.err
}

func newConfirmationError(kind ErrorKind, sentinel error, reason string, status domain.PaymentLinkStatus) *ConfirmationError {
	return &ConfirmationError{
		Kind:          kind,
		Reason:        reason,
		CurrentStatus: status,
		Retryable:     kind == KindLockContention,
		err:           sentinel,
	}
}
