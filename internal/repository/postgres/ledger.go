package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// LedgerRepository is a PostgreSQL implementation of repository.LedgerRepository.
type LedgerRepository struct {
	db *sql.DB
	q  Querier
}

// NewLedgerRepository creates a new PostgreSQL ledger repository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db, q: db}
}

// NewLedgerRepositoryWithTx creates a ledger repository using a transaction.
func NewLedgerRepositoryWithTx(tx *sql.Tx) *LedgerRepository {
	return &LedgerRepository{q: tx}
}

// EnsureAccount returns the account for (organization, code), creating it if absent.
func (r *LedgerRepository) EnsureAccount(ctx context.Context, account *domain.LedgerAccount) (*domain.LedgerAccount, error) {
	query := `
		INSERT INTO ledger_accounts (id, organization_id, code, name, account_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, code) DO UPDATE SET code = EXCLUDED.code
		RETURNING id, organization_id, code, name, account_type
	`

	id := account.ID
	if id == "" {
		id = uuid.New().String()
	}

	var stored domain.LedgerAccount
	err := r.q.QueryRowContext(ctx, query,
		id,
		account.OrganizationID,
		account.Code,
		account.Name,
		account.Type,
	).Scan(&stored.ID, &stored.OrganizationID, &stored.Code, &stored.Name, &stored.Type)
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

// CreatePosting writes all entries atomically, skipping existing idempotency
// keys. A repository bound to a transaction writes inside it; otherwise a
// transaction is opened for the posting.
func (r *LedgerRepository) CreatePosting(ctx context.Context, entries []*domain.LedgerEntry) (inserted int, err error) {
	if len(entries) == 0 {
		return 0, nil
	}

	if r.db == nil {
		return r.insertEntries(ctx, entries)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Create transaction-scoped repository.
	inserted, err = NewLedgerRepositoryWithTx(tx).insertEntries(ctx, entries)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return inserted, nil
}

func (r *LedgerRepository) insertEntries(ctx context.Context, entries []*domain.LedgerEntry) (int, error) {
	query := `
		INSERT INTO ledger_entries (id, payment_link_id, account_id, entry_type, amount, currency, idempotency_key, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	inserted := 0
	for _, entry := range entries {
		result, err := r.q.ExecContext(ctx, query,
			entry.ID,
			entry.PaymentLinkID,
			entry.AccountID,
			entry.Type,
			entry.Amount,
			entry.Currency,
			entry.IdempotencyKey,
			entry.Description,
			entry.CreatedAt,
		)
		if err != nil {
			return 0, err
		}

		n, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	return inserted, nil
}

// ListByLink returns all entries of a payment link.
func (r *LedgerRepository) ListByLink(ctx context.Context, linkID string) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT e.id, e.payment_link_id, e.account_id, a.code, e.entry_type, e.amount, e.currency,
		       e.idempotency_key, e.description, e.created_at
		FROM ledger_entries e
		JOIN ledger_accounts a ON a.id = e.account_id
		WHERE e.payment_link_id = $1
		ORDER BY e.created_at, e.entry_type DESC, a.code
	`

	rows, err := r.q.QueryContext(ctx, query, linkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.PaymentLinkID,
			&entry.AccountID,
			&entry.AccountCode,
			&entry.Type,
			&entry.Amount,
			&entry.Currency,
			&entry.IdempotencyKey,
			&entry.Description,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// SumByLink returns the debit and credit totals of a payment link.
func (r *LedgerRepository) SumByLink(ctx context.Context, linkID string) (decimal.Decimal, decimal.Decimal, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT'), 0),
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT'), 0)
		FROM ledger_entries
		WHERE payment_link_id = $1
	`

	var debits, credits decimal.Decimal
	if err := r.q.QueryRowContext(ctx, query, linkID).Scan(&debits, &credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, decimal.Zero, nil
		}
		return decimal.Zero, decimal.Zero, err
	}

	return debits, credits, nil
}

// ListUnbalancedLinks returns link IDs whose debits and credits differ by more than tolerance.
func (r *LedgerRepository) ListUnbalancedLinks(ctx context.Context, tolerance decimal.Decimal, limit int) ([]string, error) {
	query := `
		SELECT payment_link_id
		FROM ledger_entries
		GROUP BY payment_link_id
		HAVING ABS(
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT'), 0) -
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT'), 0)
		) > $1
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, tolerance, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Ensure LedgerRepository implements repository.LedgerRepository.
var _ repository.LedgerRepository = (*LedgerRepository)(nil)
