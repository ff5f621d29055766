package tests

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/metrics"
	"paylink/internal/service"
)

// harness wires every service over one MemoryDB.
type harness struct {
	db *MemoryDB

	links    *MockPaymentLinkRepository
	events   *MockPaymentEventRepository
	confirm  *MockConfirmationStore
	ledger   *MockLedgerRepository
	fxRepo   *MockFxSnapshotRepository
	jobs     *MockSyncJobRepository
	locks    *MockLockStore
	rates    *MockRateSource
	client   *MockAccountingClient
	registry *prometheus.Registry

	fx           *service.FxService
	ledgerSvc    *service.LedgerService
	syncQueue    *service.SyncQueue
	linkSvc      *service.LinkService
	confirmation *service.ConfirmationService
	consistency  *service.ConsistencyService
}

type harnessOptions struct {
	strict bool
	sync   service.SyncQueueConfig
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()

	var o harnessOptions
	for _, opt := range opts {
		opt(&o)
	}

	db := NewMemoryDB()
	h := &harness{
		db:       db,
		links:    NewMockPaymentLinkRepository(db),
		events:   NewMockPaymentEventRepository(db),
		confirm:  NewMockConfirmationStore(db),
		ledger:   NewMockLedgerRepository(db),
		fxRepo:   NewMockFxSnapshotRepository(db),
		jobs:     NewMockSyncJobRepository(db),
		locks:    NewMockLockStore(),
		rates:    NewMockRateSource(),
		client:   NewMockAccountingClient(),
		registry: prometheus.NewRegistry(),
	}

	m := metrics.New(h.registry)
	notifier := service.NewNotificationService(h.events)
	h.fx = service.NewFxService(h.fxRepo, h.rates)
	h.ledgerSvc = service.NewLedgerService(h.ledger, h.links, h.events, h.fx, m, o.strict)
	h.syncQueue = service.NewSyncQueue(h.jobs, h.links, h.events, h.client, m, o.sync)
	h.linkSvc = service.NewLinkService(h.links, h.events, h.fx, notifier)
	h.confirmation = service.NewConfirmationService(
		h.links,
		h.events,
		h.confirm,
		service.NewIdempotencyService(h.events, h.locks, 30*time.Second),
		h.fx,
		h.ledgerSvc,
		h.syncQueue,
		notifier,
		service.NewToleranceTable(nil),
		m,
	)
	h.consistency = service.NewConsistencyService(NewMockConsistencyRepository(db), h.ledgerSvc, h.jobs)

	return h
}

func strictLedger(o *harnessOptions) { o.strict = true }

// openLink seeds an OPEN link of amount in currency.
func (h *harness) openLink(id, amount, currency string) *domain.PaymentLink {
	now := time.Now()
	link := &domain.PaymentLink{
		ID:             id,
		ShortCode:      "SC" + id,
		OrganizationID: "org-1",
		Amount:         decimal.RequireFromString(amount),
		Currency:       currency,
		Status:         domain.PaymentLinkStatusOpen,
		ExpiresAt:      now.Add(time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	h.db.AddLink(link)
	return link
}

func stripeRequest(linkID, ref, amount string) service.ConfirmationRequest {
	return service.ConfirmationRequest{
		PaymentLinkID:     linkID,
		Provider:          domain.ProviderStripe,
		ExternalReference: ref,
		Amount:            decimal.RequireFromString(amount),
		Currency:          "USD",
		CorrelationID:     "corr-" + ref,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
