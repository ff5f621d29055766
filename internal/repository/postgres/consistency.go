package postgres

import (
	"context"
	"database/sql"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// ConsistencyRepository runs the read-only cross-table checks behind the
// consistency report.
type ConsistencyRepository struct {
	q Querier
}

// NewConsistencyRepository creates a new ConsistencyRepository.
func NewConsistencyRepository(db *sql.DB) *ConsistencyRepository {
	return &ConsistencyRepository{q: db}
}

// Counts returns the number of PAID links missing each downstream record.
func (r *ConsistencyRepository) Counts(ctx context.Context) (*domain.ConsistencyCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE NOT EXISTS (
				SELECT 1 FROM payment_events e
				WHERE e.payment_link_id = l.id AND e.event_type = 'PAYMENT_CONFIRMED')),
			COUNT(*) FILTER (WHERE NOT EXISTS (
				SELECT 1 FROM ledger_entries x WHERE x.payment_link_id = l.id)),
			COUNT(*) FILTER (WHERE NOT EXISTS (
				SELECT 1 FROM sync_jobs j WHERE j.payment_link_id = l.id)),
			COUNT(*)
		FROM payment_links l
		WHERE l.status = $1
	`

	var counts domain.ConsistencyCounts
	err := r.q.QueryRowContext(ctx, query, domain.PaymentLinkStatusPaid).Scan(
		&counts.PaidWithoutConfirmedEvent,
		&counts.PaidWithoutLedgerEntries,
		&counts.PaidWithoutSyncJob,
		&counts.PaidLinks,
	)
	if err != nil {
		return nil, err
	}

	return &counts, nil
}

// Ensure ConsistencyRepository implements repository.ConsistencyRepository.
var _ repository.ConsistencyRepository = (*ConsistencyRepository)(nil)
