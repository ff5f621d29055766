package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// PaymentLinkRepository is a PostgreSQL implementation of repository.PaymentLinkRepository.
type PaymentLinkRepository struct {
	q Querier
}

// NewPaymentLinkRepository creates a new PostgreSQL payment link repository.
func NewPaymentLinkRepository(db *sql.DB) *PaymentLinkRepository {
	return &PaymentLinkRepository{q: db}
}

// NewPaymentLinkRepositoryWithTx creates a payment link repository using a transaction.
func NewPaymentLinkRepositoryWithTx(tx *sql.Tx) *PaymentLinkRepository {
	return &PaymentLinkRepository{q: tx}
}

const paymentLinkColumns = `id, short_code, organization_id, amount, currency, status, expires_at, created_at, updated_at`

// Create persists a new payment link.
func (r *PaymentLinkRepository) Create(ctx context.Context, link *domain.PaymentLink) error {
	query := `
		INSERT INTO payment_links (` + paymentLinkColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.ExecContext(ctx, query,
		link.ID,
		link.ShortCode,
		link.OrganizationID,
		link.Amount,
		link.Currency,
		link.Status,
		toNullTime(link.ExpiresAt),
		link.CreatedAt,
		link.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}

	return err
}

// GetByID retrieves a payment link by ID.
func (r *PaymentLinkRepository) GetByID(ctx context.Context, id string) (*domain.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + ` FROM payment_links WHERE id = $1`

	link, err := scanPaymentLink(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return link, nil
}

// TransitionStatus moves a link from one status to another.
func (r *PaymentLinkRepository) TransitionStatus(ctx context.Context, id string, from, to domain.PaymentLinkStatus) error {
	query := `UPDATE payment_links SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`

	result, err := r.q.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Distinguish a missing link from one in another status.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return repository.ErrStatusConflict
	}

	return nil
}

// ListExpirable returns OPEN links whose expiry is at or before now.
func (r *PaymentLinkRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentLink, error) {
	query := `
		SELECT ` + paymentLinkColumns + ` FROM payment_links
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
	`

	return r.list(ctx, query, domain.PaymentLinkStatusOpen, now, limit)
}

// ListPaidWithoutSyncJob returns PAID links that have no sync job at all.
func (r *PaymentLinkRepository) ListPaidWithoutSyncJob(ctx context.Context, limit int) ([]*domain.PaymentLink, error) {
	query := `
		SELECT ` + prefixed("l", paymentLinkColumns) + ` FROM payment_links l
		LEFT JOIN sync_jobs j ON j.payment_link_id = l.id
		WHERE l.status = $1 AND j.id IS NULL
		ORDER BY l.updated_at
		LIMIT $2
	`

	return r.list(ctx, query, domain.PaymentLinkStatusPaid, limit)
}

// ListPaidWithoutLedgerEntries returns PAID links that have no postings.
func (r *PaymentLinkRepository) ListPaidWithoutLedgerEntries(ctx context.Context, limit int) ([]*domain.PaymentLink, error) {
	query := `
		SELECT ` + prefixed("l", paymentLinkColumns) + ` FROM payment_links l
		WHERE l.status = $1
		  AND NOT EXISTS (SELECT 1 FROM ledger_entries e WHERE e.payment_link_id = l.id)
		ORDER BY l.updated_at
		LIMIT $2
	`

	return r.list(ctx, query, domain.PaymentLinkStatusPaid, limit)
}

func (r *PaymentLinkRepository) list(ctx context.Context, query string, args ...any) ([]*domain.PaymentLink, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*domain.PaymentLink
	for rows.Next() {
		link, err := scanPaymentLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}

	return links, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentLink(row rowScanner) (*domain.PaymentLink, error) {
	var link domain.PaymentLink
	var expiresAt sql.NullTime

	if err := row.Scan(
		&link.ID,
		&link.ShortCode,
		&link.OrganizationID,
		&link.Amount,
		&link.Currency,
		&link.Status,
		&expiresAt,
		&link.CreatedAt,
		&link.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		link.ExpiresAt = expiresAt.Time
	}

	return &link, nil
}

// Ensure PaymentLinkRepository implements repository.PaymentLinkRepository.
var _ repository.PaymentLinkRepository = (*PaymentLinkRepository)(nil)
