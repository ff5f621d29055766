package repository

import (
	"context"

	"paylink/internal/domain"
)

// PaymentEventRepository defines the persistence operations for the event log.
type PaymentEventRepository interface {
	// Append adds an event to the log.
	Append(ctx context.Context, event *domain.PaymentEvent) error

	// FindConfirmed returns the PAYMENT_CONFIRMED event for a provider and
	// external reference. Returns nil if none exists.
	FindConfirmed(ctx context.Context, provider domain.Provider, externalReference string) (*domain.PaymentEvent, error)

	// GetConfirmedForLink returns the PAYMENT_CONFIRMED event of a link.
	// Returns nil if none exists.
	GetConfirmedForLink(ctx context.Context, linkID string) (*domain.PaymentEvent, error)

	// ListByLink returns all events of a link, oldest first.
	ListByLink(ctx context.Context, linkID string) ([]*domain.PaymentEvent, error)
}
