package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paylink/internal/domain"
	"paylink/internal/repository"
)

// SyncJobRepository is a PostgreSQL implementation of repository.SyncJobRepository.
type SyncJobRepository struct {
	q Querier
}

// NewSyncJobRepository creates a new PostgreSQL sync job repository.
func NewSyncJobRepository(db *sql.DB) *SyncJobRepository {
	return &SyncJobRepository{q: db}
}

const syncJobColumns = `id, payment_link_id, organization_id, status, retry_count, next_retry_at, last_error, correlation_id, created_at, updated_at`

// Create inserts a job. Returns false if the link already has a job.
func (r *SyncJobRepository) Create(ctx context.Context, job *domain.SyncJob) (bool, error) {
	query := `
		INSERT INTO sync_jobs (` + syncJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payment_link_id) DO NOTHING
	`

	result, err := r.q.ExecContext(ctx, query,
		job.ID,
		job.PaymentLinkID,
		job.OrganizationID,
		job.Status,
		job.RetryCount,
		job.NextRetryAt,
		job.LastError,
		job.CorrelationID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// GetByLinkID returns the job of a link, or nil if absent.
func (r *SyncJobRepository) GetByLinkID(ctx context.Context, linkID string) (*domain.SyncJob, error) {
	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE payment_link_id = $1`

	job, err := scanSyncJob(r.q.QueryRowContext(ctx, query, linkID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return job, nil
}

// ClaimDue leases up to limit due jobs. SKIP LOCKED keeps concurrent
// claimers from blocking on or double-claiming the same rows.
func (r *SyncJobRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*domain.SyncJob, error) {
	query := `
		UPDATE sync_jobs SET claimed_until = $1, updated_at = now()
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status IN ($2, $3)
			  AND next_retry_at <= $4
			  AND (claimed_until IS NULL OR claimed_until <= $4)
			ORDER BY next_retry_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + syncJobColumns

	rows, err := r.q.QueryContext(ctx, query,
		now.Add(lease),
		domain.SyncJobStatusPending,
		domain.SyncJobStatusRetrying,
		now,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// MarkSuccess moves a job to SUCCESS.
func (r *SyncJobRepository) MarkSuccess(ctx context.Context, id string) error {
	query := `
		UPDATE sync_jobs SET status = $1, last_error = '', claimed_until = NULL, updated_at = now()
		WHERE id = $2
	`

	return r.exec(ctx, query, domain.SyncJobStatusSuccess, id)
}

// MarkRetry moves a job to RETRYING with the given retry count and time.
func (r *SyncJobRepository) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	query := `
		UPDATE sync_jobs
		SET status = $1, retry_count = $2, next_retry_at = $3, last_error = $4, claimed_until = NULL, updated_at = now()
		WHERE id = $5
	`

	return r.exec(ctx, query, domain.SyncJobStatusRetrying, retryCount, nextRetryAt, lastError, id)
}

// MarkFailed moves a job to FAILED.
func (r *SyncJobRepository) MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error {
	query := `
		UPDATE sync_jobs
		SET status = $1, retry_count = $2, last_error = $3, claimed_until = NULL, updated_at = now()
		WHERE id = $4
	`

	return r.exec(ctx, query, domain.SyncJobStatusFailed, retryCount, lastError, id)
}

// ResetFailed moves FAILED jobs back to PENDING with zero retries.
func (r *SyncJobRepository) ResetFailed(ctx context.Context, orgID string) (int, error) {
	query := `
		UPDATE sync_jobs
		SET status = $1, retry_count = 0, next_retry_at = now(), claimed_until = NULL, updated_at = now()
		WHERE status = $2 AND ($3 = '' OR organization_id = $3)
	`

	result, err := r.q.ExecContext(ctx, query, domain.SyncJobStatusPending, domain.SyncJobStatusFailed, orgID)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(rowsAffected), nil
}

// CountByStatus returns job counts keyed by status.
func (r *SyncJobRepository) CountByStatus(ctx context.Context) (map[domain.SyncJobStatus]int, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.SyncJobStatus]int)
	for rows.Next() {
		var status domain.SyncJobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

func (r *SyncJobRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func scanSyncJob(row rowScanner) (*domain.SyncJob, error) {
	var job domain.SyncJob

	if err := row.Scan(
		&job.ID,
		&job.PaymentLinkID,
		&job.OrganizationID,
		&job.Status,
		&job.RetryCount,
		&job.NextRetryAt,
		&job.LastError,
		&job.CorrelationID,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &job, nil
}

// Ensure SyncJobRepository implements repository.SyncJobRepository.
var _ repository.SyncJobRepository = (*SyncJobRepository)(nil)
