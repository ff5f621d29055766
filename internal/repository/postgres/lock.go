package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// LockStore implements repository.LockStore on the payment_locks table.
type LockStore struct {
	q Querier
}

// NewLockStore creates a new PostgreSQL lock store.
func NewLockStore(db *sql.DB) *LockStore {
	return &LockStore{q: db}
}

// Acquire inserts the lease row, or takes over a row whose lease has elapsed.
// The conditional upsert is a single statement, so two contenders cannot both
// observe the lease as free.
func (s *LockStore) Acquire(ctx context.Context, linkID, holder string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO payment_locks (payment_link_id, holder, acquired_at, expires_at)
		VALUES ($1, $2, now(), now() + $3 * interval '1 millisecond')
		ON CONFLICT (payment_link_id) DO UPDATE
		SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		WHERE payment_locks.expires_at <= now()
	`

	result, err := s.q.ExecContext(ctx, query, linkID, holder, ttl.Milliseconds())
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// Release deletes the lease if holder still owns it.
func (s *LockStore) Release(ctx context.Context, linkID, holder string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM payment_locks WHERE payment_link_id = $1 AND holder = $2`, linkID, holder)
	return err
}

// Get returns the current lease row, or nil if none exists.
func (s *LockStore) Get(ctx context.Context, linkID string) (*domain.PaymentLock, error) {
	query := `SELECT payment_link_id, holder, acquired_at, expires_at FROM payment_locks WHERE payment_link_id = $1`

	var lock domain.PaymentLock
	err := s.q.QueryRowContext(ctx, query, linkID).Scan(&lock.PaymentLinkID, &lock.Holder, &lock.AcquiredAt, &lock.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &lock, nil
}

// PurgeExpired removes elapsed leases left behind by crashed holders.
func (s *LockStore) PurgeExpired(ctx context.Context) (int, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM payment_locks WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(rowsAffected), nil
}

// Ensure LockStore implements the lock interfaces.
var (
	_ repository.LockStore     = (*LockStore)(nil)
	_ repository.LockInspector = (*LockStore)(nil)
)
