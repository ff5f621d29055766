package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"paylink/internal/accounting"
	"paylink/internal/domain"
	"paylink/internal/metrics"
	"paylink/internal/repository"
)

// AccountingClient pushes a confirmed payment to the accounting system.
type AccountingClient interface {
	SyncPayment(ctx context.Context, payment *accounting.Payment) error
}

// SyncQueueConfig tunes the queue worker.
type SyncQueueConfig struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	MaxBackoff  time.Duration
	Jitter      bool
	CallTimeout time.Duration
	ClaimLease  time.Duration
}

// SyncRunSummary counts the outcomes of one RunOnce pass.
type SyncRunSummary struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// SyncQueue delivers confirmed payments to the accounting system with
// at-least-once semantics and exponential backoff.
type SyncQueue struct {
	jobRepo   repository.SyncJobRepository
	linkRepo  repository.PaymentLinkRepository
	eventRepo repository.PaymentEventRepository
	client    AccountingClient
	metrics   *metrics.Metrics
	cfg       SyncQueueConfig
	now       func() time.Time
}

// NewSyncQueue creates a new SyncQueue. Zero config values fall back to
// defaults.
func NewSyncQueue(
	jobRepo repository.SyncJobRepository,
	linkRepo repository.PaymentLinkRepository,
	eventRepo repository.PaymentEventRepository,
	client AccountingClient,
	m *metrics.Metrics,
	cfg SyncQueueConfig,
) *SyncQueue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}

	return &SyncQueue{
		jobRepo:   jobRepo,
		linkRepo:  linkRepo,
		eventRepo: eventRepo,
		client:    client,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Enqueue inserts a PENDING job for a PAID link. A link has at most one job;
// enqueuing again returns false without error.
func (q *SyncQueue) Enqueue(ctx context.Context, link *domain.PaymentLink, correlationID string) (bool, error) {
	now := q.now()
	job := &domain.SyncJob{
		ID:             uuid.New().String(),
		PaymentLinkID:  link.ID,
		OrganizationID: link.OrganizationID,
		Status:         domain.SyncJobStatusPending,
		NextRetryAt:    now,
		CorrelationID:  correlationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := q.jobRepo.Create(ctx, job)
	if err != nil {
		return false, fmt.Errorf("enqueue sync job: %w", err)
	}

	if created {
		slog.DebugContext(ctx, "sync job enqueued",
			"payment_link_id", link.ID,
			"job_id", job.ID,
			"correlation_id", correlationID,
		)
	}

	return created, nil
}

// NextRetryDelay returns the wait before attempt n+1 after the n-th failure:
// 2^n seconds, capped at maxBackoff.
func NextRetryDelay(n int, maxBackoff time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	// 2^31 seconds is far beyond any sane cap.
	if n > 31 {
		return maxBackoff
	}
	delay := time.Duration(1<<uint(n)) * time.Second
	if maxBackoff > 0 && delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// RunOnce claims and processes one batch of due jobs.
func (q *SyncQueue) RunOnce(ctx context.Context) (SyncRunSummary, error) {
	jobs, err := q.jobRepo.ClaimDue(ctx, q.now(), q.cfg.BatchSize, q.cfg.ClaimLease)
	if err != nil {
		return SyncRunSummary{}, fmt.Errorf("claim sync jobs: %w", err)
	}

	summary := SyncRunSummary{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return summary, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, q.cfg.Concurrency)
	)

	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(job *domain.SyncJob) {
			defer wg.Done()
			defer func() { <-sem }()

			status := q.process(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case domain.SyncJobStatusSuccess:
				summary.Succeeded++
			case domain.SyncJobStatusRetrying:
				summary.Retrying++
			case domain.SyncJobStatusFailed:
				summary.Failed++
			}
		}(job)
	}
	wg.Wait()

	slog.InfoContext(ctx, "sync batch processed",
		"claimed", summary.Claimed,
		"succeeded", summary.Succeeded,
		"retrying", summary.Retrying,
		"failed", summary.Failed,
	)

	return summary, nil
}

// Run calls RunOnce every interval until ctx is done.
func (q *SyncQueue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := q.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "sync run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ResetFailed moves FAILED jobs back to PENDING. An empty orgID resets all
// organizations.
func (q *SyncQueue) ResetFailed(ctx context.Context, orgID string) (int, error) {
	n, err := q.jobRepo.ResetFailed(ctx, orgID)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "failed sync jobs reset", "organization_id", orgID, "count", n)
	return n, nil
}

// Backfill enqueues jobs for PAID links that never got one.
func (q *SyncQueue) Backfill(ctx context.Context, limit int) (int, error) {
	links, err := q.linkRepo.ListPaidWithoutSyncJob(ctx, limit)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, link := range links {
		created, err := q.Enqueue(ctx, link, "")
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
		}
	}

	if enqueued > 0 {
		slog.WarnContext(ctx, "backfilled missing sync jobs", "count", enqueued)
	}

	return enqueued, nil
}

// process runs one job and records its outcome. It returns the new status.
func (q *SyncQueue) process(ctx context.Context, job *domain.SyncJob) domain.SyncJobStatus {
	logger := slog.With(
		"job_id", job.ID,
		"payment_link_id", job.PaymentLinkID,
		"correlation_id", job.CorrelationID,
	)

	start := time.Now()
	err := q.deliver(ctx, job)
	elapsed := time.Since(start).Seconds()

	status, nextRetryAt := q.classify(job, err)

	var recordErr error
	switch status {
	case domain.SyncJobStatusSuccess:
		recordErr = q.jobRepo.MarkSuccess(ctx, job.ID)
		logger.InfoContext(ctx, "payment synced to accounting")
	case domain.SyncJobStatusRetrying:
		recordErr = q.jobRepo.MarkRetry(ctx, job.ID, job.RetryCount+1, nextRetryAt, err.Error())
		logger.WarnContext(ctx, "sync attempt failed; will retry",
			"retry_count", job.RetryCount+1,
			"next_retry_at", nextRetryAt,
			"error", err,
		)
	case domain.SyncJobStatusFailed:
		recordErr = q.jobRepo.MarkFailed(ctx, job.ID, job.RetryCount+1, err.Error())
		logger.ErrorContext(ctx, "sync job failed permanently",
			"retry_count", job.RetryCount+1,
			"error", err,
		)
	}

	if recordErr != nil {
		// The claim lease expires and the job is picked up again.
		logger.ErrorContext(ctx, "failed to record sync outcome", "status", status, "error", recordErr)
	}

	q.metrics.Sync(string(status), elapsed)
	return status
}

// classify maps a delivery result to the job's next state.
func (q *SyncQueue) classify(job *domain.SyncJob, err error) (domain.SyncJobStatus, time.Time) {
	if err == nil {
		return domain.SyncJobStatusSuccess, time.Time{}
	}

	if !accounting.IsRetryable(err) {
		return domain.SyncJobStatusFailed, time.Time{}
	}

	n := job.RetryCount + 1
	if n > q.cfg.MaxRetries {
		return domain.SyncJobStatusFailed, time.Time{}
	}

	delay := NextRetryDelay(n, q.cfg.MaxBackoff)
	if q.cfg.Jitter {
		delay += time.Duration(rand.Int63n(int64(delay/2 + 1)))
	}

	return domain.SyncJobStatusRetrying, q.now().Add(delay)
}

// deliver builds the payload from the link and its confirmation and sends it
// under the per-call timeout.
func (q *SyncQueue) deliver(ctx context.Context, job *domain.SyncJob) error {
	link, err := q.linkRepo.GetByID(ctx, job.PaymentLinkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: payment link %s not found", accounting.ErrInvalidPayment, job.PaymentLinkID)
		}
		return err
	}

	if link.Status != domain.PaymentLinkStatusPaid {
		return fmt.Errorf("%w: payment link %s is %s", accounting.ErrInvalidPayment, link.ID, link.Status)
	}

	payment := &accounting.Payment{
		Reference:      "sync-" + job.ID,
		PaymentLinkID:  link.ID,
		ShortCode:      link.ShortCode,
		OrganizationID: link.OrganizationID,
		Amount:         link.Amount,
		Currency:       link.Currency,
		PaidAt:         link.UpdatedAt,
		CorrelationID:  job.CorrelationID,
	}

	event, err := q.eventRepo.GetConfirmedForLink(ctx, link.ID)
	if err != nil {
		return err
	}
	if event != nil {
		payment.Provider = string(event.Provider)
		payment.PaidAt = event.CreatedAt
		if payment.CorrelationID == "" {
			payment.CorrelationID = event.CorrelationID
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, q.cfg.CallTimeout)
	defer cancel()

	return q.client.SyncPayment(callCtx, payment)
}
