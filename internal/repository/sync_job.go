package repository

import (
	"context"
	"time"

	"paylink/internal/domain"
)

// SyncJobRepository defines the persistence operations for the sync queue.
type SyncJobRepository interface {
	// Create inserts a job. Returns false if the link already has a job.
	Create(ctx context.Context, job *domain.SyncJob) (bool, error)

	// GetByLinkID returns the job of a link, or nil if absent.
	GetByLinkID(ctx context.Context, linkID string) (*domain.SyncJob, error)

	// ClaimDue leases up to limit PENDING or RETRYING jobs whose next retry
	// time is at or before now. Claimed jobs are invisible to other claimers
	// until lease elapses.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*domain.SyncJob, error)

	// MarkSuccess moves a job to SUCCESS.
	MarkSuccess(ctx context.Context, id string) error

	// MarkRetry moves a job to RETRYING with the given retry count and time.
	MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error

	// MarkFailed moves a job to FAILED.
	MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error

	// ResetFailed moves FAILED jobs back to PENDING with zero retries. An empty
	// orgID resets all organizations. Returns the number of jobs reset.
	ResetFailed(ctx context.Context, orgID string) (int, error)

	// CountByStatus returns job counts keyed by status.
	CountByStatus(ctx context.Context) (map[domain.SyncJobStatus]int, error)
}
