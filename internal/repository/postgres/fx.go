package postgres

import (
	"context"
	"database/sql"
	"errors"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// FxSnapshotRepository is a PostgreSQL implementation of repository.FxSnapshotRepository.
type FxSnapshotRepository struct {
	q Querier
}

// NewFxSnapshotRepository creates a new PostgreSQL FX snapshot repository.
func NewFxSnapshotRepository(db *sql.DB) *FxSnapshotRepository {
	return &FxSnapshotRepository{q: db}
}

// Create persists a snapshot.
func (r *FxSnapshotRepository) Create(ctx context.Context, snapshot *domain.FxSnapshot) error {
	query := `
		INSERT INTO fx_snapshots (id, payment_link_id, snapshot_type, asset, quote_currency, rate, source, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		snapshot.ID,
		snapshot.PaymentLinkID,
		snapshot.Type,
		snapshot.Asset,
		snapshot.QuoteCurrency,
		snapshot.Rate,
		snapshot.Source,
		snapshot.CapturedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}

	return err
}

// Get returns the snapshot for a link, type and pair, or nil if absent.
func (r *FxSnapshotRepository) Get(ctx context.Context, linkID string, snapshotType domain.FxSnapshotType, asset, quote string) (*domain.FxSnapshot, error) {
	query := `
		SELECT id, payment_link_id, snapshot_type, asset, quote_currency, rate, source, captured_at
		FROM fx_snapshots
		WHERE payment_link_id = $1 AND snapshot_type = $2 AND asset = $3 AND quote_currency = $4
	`

	var snapshot domain.FxSnapshot
	err := r.q.QueryRowContext(ctx, query, linkID, snapshotType, asset, quote).Scan(
		&snapshot.ID,
		&snapshot.PaymentLinkID,
		&snapshot.Type,
		&snapshot.Asset,
		&snapshot.QuoteCurrency,
		&snapshot.Rate,
		&snapshot.Source,
		&snapshot.CapturedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &snapshot, nil
}

// Ensure FxSnapshotRepository implements repository.FxSnapshotRepository.
var _ repository.FxSnapshotRepository = (*FxSnapshotRepository)(nil)
