// Package adapter translates provider-specific payment signals into
// confirmation requests. Adapters extract facts; all decisions are made by the
// confirmation service.
package adapter

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"paylink/internal/service"
)

var (
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload is returned when a provider payload cannot be parsed.
	ErrMalformedPayload = errors.New("malformed provider payload")

	// ErrMissingPaymentLink is returned when a payload carries no payment link id.
	ErrMissingPaymentLink = errors.New("payload does not reference a payment link")

	// ErrUpstream is returned when a provider API cannot be reached or errors.
	ErrUpstream = errors.New("provider api request failed")
)

// Result is the outcome of handling one provider signal. Ignored signals
// (unrelated event types, non-final states) carry no confirmation.
type Result struct {
	Ignored      bool                        `json:"ignored"`
	Reason       string                      `json:"reason,omitempty"`
	Confirmation *service.ConfirmationResult `json:"confirmation,omitempty"`
}

func ignored(reason string) *Result {
	return &Result{Ignored: true, Reason: reason}
}

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// fromMinorUnits converts an integer amount in minor units to a decimal.
func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}
