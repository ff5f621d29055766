package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Job is one background maintenance task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Workers runs maintenance jobs on fixed intervals. Each run is its own New
// Relic background transaction.
type Workers struct {
	nrApp *newrelic.Application
	jobs  []Job
	wg    sync.WaitGroup
}

// NewWorkers creates a new Workers. Jobs with a non-positive interval are
// disabled.
func NewWorkers(nrApp *newrelic.Application, jobs ...Job) *Workers {
	enabled := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Interval > 0 && j.Run != nil {
			enabled = append(enabled, j)
		}
	}
	return &Workers{nrApp: nrApp, jobs: enabled}
}

// Start launches one goroutine per job. They stop when ctx is done.
func (w *Workers) Start(ctx context.Context) {
	for _, job := range w.jobs {
		w.wg.Add(1)
		go func(job Job) {
			defer w.wg.Done()
			w.loop(ctx, job)
		}(job)
		slog.Info("background job started", "job", job.Name, "interval", job.Interval.String())
	}
}

// Wait blocks until every job goroutine has returned.
func (w *Workers) Wait() {
	w.wg.Wait()
}

func (w *Workers) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx, job)
		}
	}
}

func (w *Workers) runOnce(ctx context.Context, job Job) {
	txn := w.nrApp.StartTransaction("worker/" + job.Name)
	defer txn.End()

	runCtx := newrelic.NewContext(ctx, txn)
	start := time.Now()

	if err := job.Run(runCtx); err != nil && ctx.Err() == nil {
		txn.NoticeError(err)
		slog.ErrorContext(runCtx, "background job failed", "job", job.Name, "error", err)
		return
	}

	slog.DebugContext(runCtx, "background job finished", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
}
