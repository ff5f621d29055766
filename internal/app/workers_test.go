package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkers_RunJobsUntilCanceled(t *testing.T) {
	var runs, failures int32

	workers := NewWorkers(nil,
		Job{Name: "ok", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		}},
		Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
			atomic.AddInt32(&failures, 1)
			return errors.New("boom")
		}},
		Job{Name: "disabled", Interval: 0, Run: func(ctx context.Context) error {
			t.Error("disabled job must not run")
			return nil
		}},
	)
	assert.Len(t, workers.jobs, 2)

	ctx, cancel := context.WithCancel(context.Background())
	workers.Start(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2 && atomic.LoadInt32(&failures) >= 2
	}, time.Second, 5*time.Millisecond, "a failing job keeps its schedule")

	cancel()
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}
