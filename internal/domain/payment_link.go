package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentLinkStatus represents the lifecycle status of a payment link.
type PaymentLinkStatus string

const (
	PaymentLinkStatusDraft    PaymentLinkStatus = "DRAFT"
	PaymentLinkStatusOpen     PaymentLinkStatus = "OPEN"
	PaymentLinkStatusPaid     PaymentLinkStatus = "PAID"
	PaymentLinkStatusExpired  PaymentLinkStatus = "EXPIRED"
	PaymentLinkStatusCanceled PaymentLinkStatus = "CANCELED"
)

// allowedTransitions is the payment link state machine.
// PAID, EXPIRED and CANCELED have no outgoing edges.
var allowedTransitions = map[PaymentLinkStatus][]PaymentLinkStatus{
	PaymentLinkStatusDraft: {PaymentLinkStatusOpen, PaymentLinkStatusCanceled},
	PaymentLinkStatusOpen:  {PaymentLinkStatusPaid, PaymentLinkStatusExpired, PaymentLinkStatusCanceled},
}

// IsTerminal reports whether no further transitions are permitted.
func (s PaymentLinkStatus) IsTerminal() bool {
	return s == PaymentLinkStatusPaid || s == PaymentLinkStatusExpired || s == PaymentLinkStatusCanceled
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s PaymentLinkStatus) CanTransitionTo(next PaymentLinkStatus) bool {
	for _, to := range allowedTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s PaymentLinkStatus) Valid() bool {
	switch s {
	case PaymentLinkStatusDraft, PaymentLinkStatusOpen, PaymentLinkStatusPaid,
		PaymentLinkStatusExpired, PaymentLinkStatusCanceled:
		return true
	}
	return false
}

// PaymentLink represents a merchant-issued payable request.
type PaymentLink struct {
	ID             string
	ShortCode      string
	OrganizationID string
	Amount         decimal.Decimal
	Currency       string
	Status         PaymentLinkStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsExpired reports whether the link is past its expiry at the given instant.
// A zero ExpiresAt means the link never expires.
func (l *PaymentLink) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}
