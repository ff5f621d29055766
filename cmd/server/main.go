package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"paylink/internal/app"
	"paylink/internal/config"
	"paylink/internal/handler"
	"paylink/internal/metrics"
	"paylink/pkg/logging"
)

func main() {
	logging.Setup()

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic first so the database driver can be instrumented.
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			slog.Error("failed to initialize New Relic", "error", err)
		} else {
			slog.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	container, err := app.NewContainer(db, redisClient, cfg, m)
	if err != nil {
		slog.Error("failed to wire services", "error", err)
		os.Exit(1)
	}

	router := app.NewRouter(app.RouterDeps{
		LinkHandler:    handler.NewLinkHandler(container.Links, container.Ledger),
		WebhookHandler: handler.NewWebhookHandler(container.Stripe, container.Hedera, container.Wise),
		AdminHandler:   handler.NewAdminHandler(container.SyncQueue, container.Ledger, container.Links, container.Consistency, container.Locks),
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		Gatherer:       registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workers := app.NewWorkers(nrApp, backgroundJobs(cfg, container)...)
	workers.Start(workerCtx)

	go func() {
		slog.Info("starting server", "port", cfg.Server.Port, "lock_backend", cfg.Lock.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	stopWorkers()
	workers.Wait()

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	slog.Info("server exited")
}

// backgroundJobs lists the maintenance loops: sync delivery, backfill of lost
// enqueues, ledger reconciliation, link expiry and stale lease cleanup.
func backgroundJobs(cfg *config.Config, c *app.Container) []app.Job {
	limit := cfg.Workers.SweepLimit

	jobs := []app.Job{
		{
			Name:     "sync",
			Interval: cfg.Workers.SyncInterval,
			Run: func(ctx context.Context) error {
				_, err := c.SyncQueue.RunOnce(ctx)
				return err
			},
		},
		{
			Name:     "sync-backfill",
			Interval: cfg.Workers.BackfillInterval,
			Run: func(ctx context.Context) error {
				_, err := c.SyncQueue.Backfill(ctx, limit)
				return err
			},
		},
		{
			Name:     "ledger-reconcile",
			Interval: cfg.Workers.ReconcileInterval,
			Run: func(ctx context.Context) error {
				_, err := c.Ledger.ReconcileMissing(ctx, limit)
				return err
			},
		},
		{
			Name:     "link-expiry",
			Interval: cfg.Workers.ExpiryInterval,
			Run: func(ctx context.Context) error {
				_, err := c.Links.ExpireDue(ctx, limit)
				return err
			},
		},
	}

	if c.PgLocks != nil {
		jobs = append(jobs, app.Job{
			Name:     "lock-purge",
			Interval: cfg.Workers.LockPurgeInterval,
			Run: func(ctx context.Context) error {
				n, err := c.PgLocks.PurgeExpired(ctx)
				if n > 0 {
					slog.InfoContext(ctx, "purged expired payment locks", "count", n)
				}
				return err
			},
		})
	}

	return jobs
}
