package repository

import (
	"context"
	"time"

	"paylink/internal/domain"
)

// PaymentLinkRepository defines the persistence operations for payment links.
type PaymentLinkRepository interface {
	// Create persists a new payment link.
	Create(ctx context.Context, link *domain.PaymentLink) error

	// GetByID retrieves a payment link by ID.
	GetByID(ctx context.Context, id string) (*domain.PaymentLink, error)

	// TransitionStatus moves a link from one status to another.
	// Returns ErrStatusConflict if the link is not currently in from.
	TransitionStatus(ctx context.Context, id string, from, to domain.PaymentLinkStatus) error

	// ListExpirable returns OPEN links whose expiry is at or before now.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentLink, error)

	// ListPaidWithoutSyncJob returns PAID links that have no sync job at all.
	ListPaidWithoutSyncJob(ctx context.Context, limit int) ([]*domain.PaymentLink, error)

	// ListPaidWithoutLedgerEntries returns PAID links that have no postings.
	ListPaidWithoutLedgerEntries(ctx context.Context, limit int) ([]*domain.PaymentLink, error)
}

// ConfirmationStore performs the atomic PAID transition.
type ConfirmationStore interface {
	// MarkPaid sets the link to PAID (only from OPEN) and appends the
	// PAYMENT_CONFIRMED event in one transaction. Returns ErrStatusConflict or
	// ErrDuplicate if a concurrent confirmation won.
	MarkPaid(ctx context.Context, linkID string, event *domain.PaymentEvent) error
}
