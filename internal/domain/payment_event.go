package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEventType represents the kind of lifecycle event recorded for a link.
type PaymentEventType string

const (
	PaymentEventCreated          PaymentEventType = "PAYMENT_LINK_CREATED"
	PaymentEventAttempted        PaymentEventType = "PAYMENT_ATTEMPTED"
	PaymentEventConfirmed        PaymentEventType = "PAYMENT_CONFIRMED"
	PaymentEventFailed           PaymentEventType = "PAYMENT_FAILED"
	PaymentEventNotificationSent PaymentEventType = "NOTIFICATION_SENT"
	PaymentEventCanceled         PaymentEventType = "PAYMENT_LINK_CANCELED"
	PaymentEventExpired          PaymentEventType = "PAYMENT_LINK_EXPIRED"
)

// PaymentEvent is an append-only audit record. A PAYMENT_CONFIRMED event for a
// provider and external reference is the durable idempotency record.
type PaymentEvent struct {
	ID                string
	PaymentLinkID     string
	Type              PaymentEventType
	Provider          Provider
	ExternalReference string
	Amount            decimal.Decimal
	Currency          string
	CorrelationID     string
	Metadata          map[string]string
	CreatedAt         time.Time
}
