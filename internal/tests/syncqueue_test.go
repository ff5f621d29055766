package tests

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paylink/internal/accounting"
	"paylink/internal/domain"
	"paylink/internal/service"
)

// paidLink seeds a PAID link with a pending sync job.
func (h *harness) paidLink(t *testing.T, id string) *domain.SyncJob {
	t.Helper()

	link := h.openLink(id, "42.00", "EUR")
	link.Status = domain.PaymentLinkStatusPaid
	h.db.AddLink(link)

	created, err := h.syncQueue.Enqueue(context.Background(), link, "corr-"+id)
	require.NoError(t, err)
	require.True(t, created)

	jobs := h.db.Jobs(id)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestNextRetryDelay_Schedule(t *testing.T) {
	t.Parallel()

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, expected := range want {
		assert.Equal(t, expected, service.NextRetryDelay(i+1, time.Hour), "after failure %d", i+1)
	}

	assert.Equal(t, time.Hour, service.NextRetryDelay(12, time.Hour))
	assert.Equal(t, 10*time.Second, service.NextRetryDelay(4, 10*time.Second))
	assert.Equal(t, time.Hour, service.NextRetryDelay(64, time.Hour))
}

func TestSyncQueue_Success_SendsDeterministicReference(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job := h.paidLink(t, "link-1")

	summary, err := h.syncQueue.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, service.SyncRunSummary{Claimed: 1, Succeeded: 1}, summary)

	payments := h.client.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, "sync-"+job.ID, payments[0].Reference)
	assert.Equal(t, "link-1", payments[0].PaymentLinkID)
	assert.True(t, payments[0].Amount.Equal(dec("42")))
	assert.Equal(t, "EUR", payments[0].Currency)
	assert.Equal(t, "corr-link-1", payments[0].CorrelationID)

	assert.Equal(t, domain.SyncJobStatusSuccess, h.db.Jobs("link-1")[0].Status)

	// Nothing left to claim.
	summary, err = h.syncQueue.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Claimed)
	assert.Equal(t, int32(1), h.client.CallCount)
}

func TestSyncQueue_RetryableFailures_BackOffThenFail(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.paidLink(t, "link-1")
	h.client.Respond = func(int, *accounting.Payment) error {
		return &accounting.Error{StatusCode: http.StatusServiceUnavailable, Body: "maintenance"}
	}

	ctx := context.Background()
	for attempt := 1; attempt <= 5; attempt++ {
		before := time.Now()
		summary, err := h.syncQueue.RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, summary.Retrying, "attempt %d", attempt)

		job := h.db.Jobs("link-1")[0]
		assert.Equal(t, domain.SyncJobStatusRetrying, job.Status)
		assert.Equal(t, attempt, job.RetryCount)
		assert.Contains(t, job.LastError, "503")

		delay := service.NextRetryDelay(attempt, time.Hour)
		assert.False(t, job.NextRetryAt.Before(before.Add(delay)), "attempt %d retry too early", attempt)
		assert.False(t, job.NextRetryAt.After(time.Now().Add(delay)), "attempt %d retry too late", attempt)

		// Not due yet.
		summary, err = h.syncQueue.RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, summary.Claimed)

		h.db.MakeJobsDue()
	}

	summary, err := h.syncQueue.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	job := h.db.Jobs("link-1")[0]
	assert.Equal(t, domain.SyncJobStatusFailed, job.Status)
	assert.Equal(t, 6, job.RetryCount)
	assert.Equal(t, int32(6), h.client.CallCount)

	// FAILED jobs are never claimed again.
	h.db.MakeJobsDue()
	summary, err = h.syncQueue.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Claimed)
}

func TestSyncQueue_ClientErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want domain.SyncJobStatus
	}{
		{name: "bad request is permanent", err: &accounting.Error{StatusCode: http.StatusBadRequest}, want: domain.SyncJobStatusFailed},
		{name: "unprocessable is permanent", err: &accounting.Error{StatusCode: http.StatusUnprocessableEntity}, want: domain.SyncJobStatusFailed},
		{name: "rate limited is retried", err: &accounting.Error{StatusCode: http.StatusTooManyRequests}, want: domain.SyncJobStatusRetrying},
		{name: "timeout is retried", err: context.DeadlineExceeded, want: domain.SyncJobStatusRetrying},
		{name: "transport error is retried", err: errors.New("connection refused"), want: domain.SyncJobStatusRetrying},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.paidLink(t, "link-1")
			h.client.Respond = func(int, *accounting.Payment) error { return tc.err }

			_, err := h.syncQueue.RunOnce(context.Background())
			require.NoError(t, err)

			job := h.db.Jobs("link-1")[0]
			assert.Equal(t, tc.want, job.Status)
			assert.Equal(t, 1, job.RetryCount)
			assert.Equal(t, int32(1), h.client.CallCount)
		})
	}
}

func TestSyncQueue_RecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.paidLink(t, "link-1")
	h.client.Respond = func(call int, _ *accounting.Payment) error {
		if call < 3 {
			return &accounting.Error{StatusCode: http.StatusBadGateway}
		}
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.syncQueue.RunOnce(ctx)
		require.NoError(t, err)
		h.db.MakeJobsDue()
	}

	job := h.db.Jobs("link-1")[0]
	assert.Equal(t, domain.SyncJobStatusSuccess, job.Status)
	assert.Empty(t, job.LastError)

	payments := h.client.Payments()
	require.Len(t, payments, 3)
	assert.Equal(t, payments[0].Reference, payments[2].Reference, "every attempt reuses one idempotency key")
}

func TestSyncQueue_NonPaidLink_FailsWithoutCalling(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	link := h.openLink("link-1", "10.00", "USD")
	_, err := h.syncQueue.Enqueue(context.Background(), link, "")
	require.NoError(t, err)

	summary, err := h.syncQueue.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int32(0), h.client.CallCount)
}

func TestSyncQueue_EnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.paidLink(t, "link-1")

	created, err := h.syncQueue.Enqueue(context.Background(), h.db.Link("link-1"), "again")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, h.db.Jobs("link-1"), 1)
}

func TestSyncQueue_ResetFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.paidLink(t, "link-1")
	h.client.Respond = func(int, *accounting.Payment) error {
		return &accounting.Error{StatusCode: http.StatusBadRequest}
	}

	ctx := context.Background()
	_, err := h.syncQueue.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SyncJobStatusFailed, h.db.Jobs("link-1")[0].Status)

	n, err := h.syncQueue.ResetFailed(ctx, "other-org")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = h.syncQueue.ResetFailed(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job := h.db.Jobs("link-1")[0]
	assert.Equal(t, domain.SyncJobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)

	h.client.Respond = nil
	summary, err := h.syncQueue.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestSyncQueue_Backfill(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, id := range []string{"link-1", "link-2"} {
		link := h.openLink(id, "10.00", "USD")
		link.Status = domain.PaymentLinkStatusPaid
		h.db.AddLink(link)
	}
	h.openLink("link-3", "10.00", "USD")

	n, err := h.syncQueue.Backfill(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, h.db.Jobs("link-3"))

	n, err = h.syncQueue.Backfill(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSyncQueue_BatchRespectsConcurrency(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *harnessOptions) {
		o.sync = service.SyncQueueConfig{BatchSize: 3, Concurrency: 2}
	})
	for _, id := range []string{"link-1", "link-2", "link-3", "link-4", "link-5"} {
		h.paidLink(t, id)
	}

	summary, err := h.syncQueue.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Claimed)
	assert.Equal(t, 3, summary.Succeeded)

	summary, err = h.syncQueue.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Claimed)
}

func TestSyncQueue_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.paidLink(t, "link-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.syncQueue.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		jobs := h.db.Jobs("link-1")
		return len(jobs) == 1 && jobs[0].Status == domain.SyncJobStatusSuccess
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
