package postgres

import (
	"context"
	"database/sql"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// ConfirmationStore performs the PAID transition and the confirmation event
// append in a single transaction.
type ConfirmationStore struct {
	db *sql.DB
}

// NewConfirmationStore creates a new ConfirmationStore.
func NewConfirmationStore(db *sql.DB) *ConfirmationStore {
	return &ConfirmationStore{db: db}
}

// MarkPaid sets the link to PAID and appends the PAYMENT_CONFIRMED event.
func (s *ConfirmationStore) MarkPaid(ctx context.Context, linkID string, event *domain.PaymentEvent) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Create transaction-scoped repositories.
	txLinkRepo := NewPaymentLinkRepositoryWithTx(tx)
	txEventRepo := NewPaymentEventRepositoryWithTx(tx)

	if err = txLinkRepo.TransitionStatus(ctx, linkID, domain.PaymentLinkStatusOpen, domain.PaymentLinkStatusPaid); err != nil {
		return err
	}

	if err = txEventRepo.Append(ctx, event); err != nil {
		return err
	}

	return tx.Commit()
}

// Ensure ConfirmationStore implements repository.ConfirmationStore.
var _ repository.ConfirmationStore = (*ConfirmationStore)(nil)
