package app

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"paylink/internal/accounting"
	"paylink/internal/adapter"
	"paylink/internal/config"
	"paylink/internal/metrics"
	"paylink/internal/pricefeed"
	internalRedis "paylink/internal/redis"
	"paylink/internal/repository"
	"paylink/internal/repository/postgres"
	"paylink/internal/service"
)

// Container holds the wired services shared by the server and the CLI.
type Container struct {
	LockStore    repository.LockStore
	Locks        repository.LockInspector
	PgLocks      *postgres.LockStore // nil unless LOCK_BACKEND=postgres
	Links        *service.LinkService
	Confirmation *service.ConfirmationService
	Ledger       *service.LedgerService
	SyncQueue    *service.SyncQueue
	Consistency  *service.ConsistencyService
	Stripe       *adapter.StripeAdapter
	Hedera       *adapter.HederaAdapter
	Wise         *adapter.WiseAdapter
}

// NewContainer wires repositories, stores and services.
func NewContainer(db *sql.DB, redisClient redis.UniversalClient, cfg *config.Config, m *metrics.Metrics) (*Container, error) {
	// Repositories.
	linkRepo := postgres.NewPaymentLinkRepository(db)
	eventRepo := postgres.NewPaymentEventRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	fxRepo := postgres.NewFxSnapshotRepository(db)
	jobRepo := postgres.NewSyncJobRepository(db)
	consistencyRepo := postgres.NewConsistencyRepository(db)
	confirmStore := postgres.NewConfirmationStore(db)

	c := &Container{}

	// Lock backend.
	switch strings.ToLower(cfg.Lock.Backend) {
	case "redis":
		store := internalRedis.NewLockStore(redisClient)
		c.LockStore, c.Locks = store, store
	case "postgres", "":
		store := postgres.NewLockStore(db)
		c.LockStore, c.Locks, c.PgLocks = store, store, store
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}

	// Rates.
	var rates service.RateSource = pricefeed.NewClient(cfg.PriceFeed.BaseURL, cfg.PriceFeed.Timeout)
	if redisClient != nil {
		rates = service.NewCachedRateSource(rates, internalRedis.NewRateCache(redisClient, cfg.PriceFeed.CacheTTL))
	}

	// Services.
	notifier := service.NewNotificationService(eventRepo)
	fxService := service.NewFxService(fxRepo, rates)
	idempotency := service.NewIdempotencyService(eventRepo, c.LockStore, cfg.Lock.TTL)
	c.Ledger = service.NewLedgerService(ledgerRepo, linkRepo, eventRepo, fxService, m, cfg.Ledger.StrictBalance)
	c.SyncQueue = service.NewSyncQueue(
		jobRepo, linkRepo, eventRepo,
		accounting.NewClient(cfg.Accounting.BaseURL, cfg.Accounting.APIToken),
		m,
		service.SyncQueueConfig{
			BatchSize:   cfg.Sync.BatchSize,
			Concurrency: cfg.Sync.Concurrency,
			MaxRetries:  cfg.Sync.MaxRetries,
			MaxBackoff:  cfg.Sync.MaxBackoff,
			Jitter:      cfg.Sync.BackoffJitter,
			CallTimeout: cfg.Sync.CallTimeout,
			ClaimLease:  cfg.Sync.ClaimLease,
		},
	)
	c.Links = service.NewLinkService(linkRepo, eventRepo, fxService, notifier)
	c.Confirmation = service.NewConfirmationService(
		linkRepo, eventRepo, confirmStore,
		idempotency, fxService, c.Ledger, c.SyncQueue, notifier,
		service.NewToleranceTable(cfg.Confirmation.Tolerances),
		m,
	)
	c.Consistency = service.NewConsistencyService(consistencyRepo, c.Ledger, jobRepo)

	// Provider adapters.
	c.Stripe = adapter.NewStripeAdapter(c.Confirmation, cfg.Stripe.WebhookSecret, cfg.Stripe.Tolerance)
	c.Hedera = adapter.NewHederaAdapter(c.Confirmation, adapter.HederaConfig{
		MirrorURL:       cfg.Hedera.MirrorURL,
		MerchantAccount: cfg.Hedera.MerchantAccount,
		Tokens:          cfg.Hedera.Tokens,
		PollInterval:    cfg.Hedera.PollInterval,
		PollTimeout:     cfg.Hedera.PollTimeout,
	})
	c.Wise = adapter.NewWiseAdapter(c.Confirmation, cfg.Wise.APIURL, cfg.Wise.APIToken)

	return c, nil
}
