package tests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"paylink/internal/accounting"
	"paylink/internal/domain"
	"paylink/internal/repository"
)

// ──────────────────────────────────────────────
// IN-MEMORY DATABASE
// ──────────────────────────────────────────────

// MemoryDB is a thread-safe in-memory stand-in for the relational store. The
// mock repositories below share one MemoryDB so multi-table writes such as
// MarkPaid can be atomic.
type MemoryDB struct {
	mu        sync.Mutex
	links     map[string]*domain.PaymentLink
	events    []*domain.PaymentEvent
	accounts  map[string]*domain.LedgerAccount
	entries   []*domain.LedgerEntry
	entryKeys map[string]bool
	snapshots map[string]*domain.FxSnapshot
	jobs      map[string]*domain.SyncJob
	claimed   map[string]time.Time

	// writes counts every mutation of stored state.
	writes int32
}

// NewMemoryDB creates an empty MemoryDB.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		links:     make(map[string]*domain.PaymentLink),
		accounts:  make(map[string]*domain.LedgerAccount),
		entryKeys: make(map[string]bool),
		snapshots: make(map[string]*domain.FxSnapshot),
		jobs:      make(map[string]*domain.SyncJob),
		claimed:   make(map[string]time.Time),
	}
}

// AddLink seeds a payment link without counting a write.
func (db *MemoryDB) AddLink(link *domain.PaymentLink) {
	db.mu.Lock()
	defer db.mu.Unlock()
	copy := *link
	db.links[link.ID] = &copy
}

// Link returns a copy of a stored link, or nil.
func (db *MemoryDB) Link(id string) *domain.PaymentLink {
	db.mu.Lock()
	defer db.mu.Unlock()
	link, ok := db.links[id]
	if !ok {
		return nil
	}
	copy := *link
	return &copy
}

// Events returns the events of a link, optionally filtered by type.
func (db *MemoryDB) Events(linkID string, types ...domain.PaymentEventType) []*domain.PaymentEvent {
	db.mu.Lock()
	defer db.mu.Unlock()
	var result []*domain.PaymentEvent
	for _, e := range db.events {
		if e.PaymentLinkID != linkID {
			continue
		}
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		result = append(result, e)
	}
	return result
}

// Entries returns the ledger entries of a link.
func (db *MemoryDB) Entries(linkID string) []*domain.LedgerEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var result []*domain.LedgerEntry
	for _, e := range db.entries {
		if e.PaymentLinkID == linkID {
			copy := *e
			result = append(result, &copy)
		}
	}
	return result
}

// Jobs returns all sync jobs of a link.
func (db *MemoryDB) Jobs(linkID string) []*domain.SyncJob {
	db.mu.Lock()
	defer db.mu.Unlock()
	var result []*domain.SyncJob
	for _, j := range db.jobs {
		if j.PaymentLinkID == linkID {
			copy := *j
			result = append(result, &copy)
		}
	}
	return result
}

// BackdateEvents moves every event of a link d into the past.
func (db *MemoryDB) BackdateEvents(linkID string, d time.Duration) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, e := range db.events {
		if e.PaymentLinkID == linkID {
			e.CreatedAt = e.CreatedAt.Add(-d)
		}
	}
}

// MakeJobsDue moves every job's retry time into the past and drops claims.
func (db *MemoryDB) MakeJobsDue() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for id, j := range db.jobs {
		j.NextRetryAt = time.Now().Add(-time.Second)
		delete(db.claimed, id)
	}
}

// Writes returns the number of mutations since creation.
func (db *MemoryDB) Writes() int32 {
	return atomic.LoadInt32(&db.writes)
}

func (db *MemoryDB) wrote() {
	atomic.AddInt32(&db.writes, 1)
}

func containsType(types []domain.PaymentEventType, t domain.PaymentEventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// MOCK PAYMENT LINK REPOSITORY
// ──────────────────────────────────────────────

// MockPaymentLinkRepository is a mock implementation of PaymentLinkRepository.
type MockPaymentLinkRepository struct {
	db *MemoryDB

	// Counters for verification
	GetByIDCallCount int32
	CreateCallCount  int32

	// Error injection
	GetByIDError error
	// CreateConflicts makes the next N Create calls fail as a unique
	// violation.
	CreateConflicts int32
}

// NewMockPaymentLinkRepository creates a new mock payment link repository.
func NewMockPaymentLinkRepository(db *MemoryDB) *MockPaymentLinkRepository {
	return &MockPaymentLinkRepository{db: db}
}

func (m *MockPaymentLinkRepository) Create(ctx context.Context, link *domain.PaymentLink) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if atomic.AddInt32(&m.CreateConflicts, -1) >= 0 {
		return repository.ErrDuplicate
	}
	atomic.StoreInt32(&m.CreateConflicts, 0)

	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.links[link.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range m.db.links {
		if link.ShortCode != "" && existing.ShortCode == link.ShortCode {
			return repository.ErrDuplicate
		}
	}
	copy := *link
	m.db.links[link.ID] = &copy
	m.db.wrote()
	return nil
}

func (m *MockPaymentLinkRepository) GetByID(ctx context.Context, id string) (*domain.PaymentLink, error) {
	atomic.AddInt32(&m.GetByIDCallCount, 1)
	if m.GetByIDError != nil {
		return nil, m.GetByIDError
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	link, ok := m.db.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *link
	return &copy, nil
}

func (m *MockPaymentLinkRepository) TransitionStatus(ctx context.Context, id string, from, to domain.PaymentLinkStatus) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	link, ok := m.db.links[id]
	if !ok {
		return repository.ErrNotFound
	}
	if link.Status != from {
		return repository.ErrStatusConflict
	}
	link.Status = to
	link.UpdatedAt = time.Now()
	m.db.wrote()
	return nil
}

func (m *MockPaymentLinkRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentLink, error) {
	return m.list(limit, func(l *domain.PaymentLink) bool {
		return l.Status == domain.PaymentLinkStatusOpen && l.IsExpired(now)
	}), nil
}

func (m *MockPaymentLinkRepository) ListPaidWithoutSyncJob(ctx context.Context, limit int) ([]*domain.PaymentLink, error) {
	return m.list(limit, func(l *domain.PaymentLink) bool {
		if l.Status != domain.PaymentLinkStatusPaid {
			return false
		}
		for _, j := range m.db.jobs {
			if j.PaymentLinkID == l.ID {
				return false
			}
		}
		return true
	}), nil
}

func (m *MockPaymentLinkRepository) ListPaidWithoutLedgerEntries(ctx context.Context, limit int) ([]*domain.PaymentLink, error) {
	return m.list(limit, func(l *domain.PaymentLink) bool {
		if l.Status != domain.PaymentLinkStatusPaid {
			return false
		}
		for _, e := range m.db.entries {
			if e.PaymentLinkID == l.ID {
				return false
			}
		}
		return true
	}), nil
}

// list runs match under the database lock.
func (m *MockPaymentLinkRepository) list(limit int, match func(*domain.PaymentLink) bool) []*domain.PaymentLink {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var result []*domain.PaymentLink
	for _, l := range m.db.links {
		if match(l) {
			copy := *l
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// ──────────────────────────────────────────────
// MOCK PAYMENT EVENT REPOSITORY
// ──────────────────────────────────────────────

// MockPaymentEventRepository is a mock implementation of PaymentEventRepository.
type MockPaymentEventRepository struct {
	db *MemoryDB

	// Error injection
	AppendError error
}

// NewMockPaymentEventRepository creates a new mock event repository.
func NewMockPaymentEventRepository(db *MemoryDB) *MockPaymentEventRepository {
	return &MockPaymentEventRepository{db: db}
}

func (m *MockPaymentEventRepository) Append(ctx context.Context, event *domain.PaymentEvent) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if event.Type == domain.PaymentEventConfirmed && m.db.confirmedConflict(event) {
		return repository.ErrDuplicate
	}
	copy := *event
	m.db.events = append(m.db.events, &copy)
	m.db.wrote()
	return nil
}

func (m *MockPaymentEventRepository) FindConfirmed(ctx context.Context, provider domain.Provider, externalReference string) (*domain.PaymentEvent, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, e := range m.db.events {
		if e.Type == domain.PaymentEventConfirmed && e.Provider == provider && e.ExternalReference == externalReference {
			copy := *e
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentEventRepository) GetConfirmedForLink(ctx context.Context, linkID string) (*domain.PaymentEvent, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, e := range m.db.events {
		if e.Type == domain.PaymentEventConfirmed && e.PaymentLinkID == linkID {
			copy := *e
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentEventRepository) ListByLink(ctx context.Context, linkID string) ([]*domain.PaymentEvent, error) {
	return m.db.Events(linkID), nil
}

// confirmedConflict mirrors the two unique indexes on confirmed events.
// Caller holds db.mu.
func (db *MemoryDB) confirmedConflict(event *domain.PaymentEvent) bool {
	for _, e := range db.events {
		if e.Type != domain.PaymentEventConfirmed {
			continue
		}
		if e.PaymentLinkID == event.PaymentLinkID {
			return true
		}
		if e.Provider == event.Provider && e.ExternalReference == event.ExternalReference {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// MOCK CONFIRMATION STORE
// ──────────────────────────────────────────────

// MockConfirmationStore is a mock implementation of ConfirmationStore. The
// status update and event append happen under one lock, like a transaction.
type MockConfirmationStore struct {
	db *MemoryDB

	// Counters for verification
	MarkPaidCallCount int32
	MarkPaidSuccess   int32

	// Error injection
	MarkPaidError error

	// OnMarkPaid runs after a successful MarkPaid.
	OnMarkPaid func()
}

// NewMockConfirmationStore creates a new mock confirmation store.
func NewMockConfirmationStore(db *MemoryDB) *MockConfirmationStore {
	return &MockConfirmationStore{db: db}
}

func (m *MockConfirmationStore) MarkPaid(ctx context.Context, linkID string, event *domain.PaymentEvent) error {
	atomic.AddInt32(&m.MarkPaidCallCount, 1)
	if m.MarkPaidError != nil {
		return m.MarkPaidError
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	link, ok := m.db.links[linkID]
	if !ok {
		return repository.ErrNotFound
	}
	if link.Status != domain.PaymentLinkStatusOpen {
		return repository.ErrStatusConflict
	}
	if m.db.confirmedConflict(event) {
		return repository.ErrDuplicate
	}

	link.Status = domain.PaymentLinkStatusPaid
	link.UpdatedAt = event.CreatedAt
	copy := *event
	m.db.events = append(m.db.events, &copy)
	m.db.wrote()
	atomic.AddInt32(&m.MarkPaidSuccess, 1)
	if m.OnMarkPaid != nil {
		m.OnMarkPaid()
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK LEDGER REPOSITORY
// ──────────────────────────────────────────────

// MockLedgerRepository is a mock implementation of LedgerRepository.
type MockLedgerRepository struct {
	db *MemoryDB

	// Counters for verification
	CreatePostingCallCount int32

	// Error injection
	CreatePostingError error
}

// NewMockLedgerRepository creates a new mock ledger repository.
func NewMockLedgerRepository(db *MemoryDB) *MockLedgerRepository {
	return &MockLedgerRepository{db: db}
}

func (m *MockLedgerRepository) EnsureAccount(ctx context.Context, account *domain.LedgerAccount) (*domain.LedgerAccount, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	key := account.OrganizationID + "|" + account.Code
	if existing, ok := m.db.accounts[key]; ok {
		copy := *existing
		return &copy, nil
	}
	stored := *account
	stored.ID = fmt.Sprintf("acct-%d", len(m.db.accounts)+1)
	m.db.accounts[key] = &stored
	m.db.wrote()
	copy := stored
	return &copy, nil
}

func (m *MockLedgerRepository) CreatePosting(ctx context.Context, entries []*domain.LedgerEntry) (int, error) {
	atomic.AddInt32(&m.CreatePostingCallCount, 1)
	if m.CreatePostingError != nil {
		return 0, m.CreatePostingError
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	inserted := 0
	for _, e := range entries {
		if m.db.entryKeys[e.IdempotencyKey] {
			continue
		}
		m.db.entryKeys[e.IdempotencyKey] = true
		copy := *e
		m.db.entries = append(m.db.entries, &copy)
		inserted++
	}
	if inserted > 0 {
		m.db.wrote()
	}
	return inserted, nil
}

func (m *MockLedgerRepository) ListByLink(ctx context.Context, linkID string) ([]*domain.LedgerEntry, error) {
	return m.db.Entries(linkID), nil
}

func (m *MockLedgerRepository) SumByLink(ctx context.Context, linkID string) (decimal.Decimal, decimal.Decimal, error) {
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range m.db.Entries(linkID) {
		if e.Type == domain.EntryTypeDebit {
			debits = debits.Add(e.Amount)
		} else {
			credits = credits.Add(e.Amount)
		}
	}
	return debits, credits, nil
}

func (m *MockLedgerRepository) ListUnbalancedLinks(ctx context.Context, tolerance decimal.Decimal, limit int) ([]string, error) {
	m.db.mu.Lock()
	sums := make(map[string]decimal.Decimal)
	for _, e := range m.db.entries {
		amount := e.Amount
		if e.Type == domain.EntryTypeCredit {
			amount = amount.Neg()
		}
		sums[e.PaymentLinkID] = sums[e.PaymentLinkID].Add(amount)
	}
	m.db.mu.Unlock()

	var result []string
	for linkID, diff := range sums {
		if diff.Abs().GreaterThan(tolerance) {
			result = append(result, linkID)
		}
	}
	sort.Strings(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// InsertRawEntry stores an entry bypassing posting rules, for imbalance tests.
func (m *MockLedgerRepository) InsertRawEntry(entry *domain.LedgerEntry) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	copy := *entry
	m.db.entries = append(m.db.entries, &copy)
}

// ──────────────────────────────────────────────
// MOCK FX SNAPSHOT REPOSITORY
// ──────────────────────────────────────────────

// MockFxSnapshotRepository is a mock implementation of FxSnapshotRepository.
type MockFxSnapshotRepository struct {
	db *MemoryDB
}

// NewMockFxSnapshotRepository creates a new mock snapshot repository.
func NewMockFxSnapshotRepository(db *MemoryDB) *MockFxSnapshotRepository {
	return &MockFxSnapshotRepository{db: db}
}

func snapshotKey(linkID string, snapshotType domain.FxSnapshotType, asset, quote string) string {
	return linkID + "|" + string(snapshotType) + "|" + asset + "|" + quote
}

func (m *MockFxSnapshotRepository) Create(ctx context.Context, snapshot *domain.FxSnapshot) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	key := snapshotKey(snapshot.PaymentLinkID, snapshot.Type, snapshot.Asset, snapshot.QuoteCurrency)
	if _, ok := m.db.snapshots[key]; ok {
		return repository.ErrDuplicate
	}
	copy := *snapshot
	m.db.snapshots[key] = &copy
	m.db.wrote()
	return nil
}

func (m *MockFxSnapshotRepository) Get(ctx context.Context, linkID string, snapshotType domain.FxSnapshotType, asset, quote string) (*domain.FxSnapshot, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	snapshot, ok := m.db.snapshots[snapshotKey(linkID, snapshotType, asset, quote)]
	if !ok {
		return nil, nil
	}
	copy := *snapshot
	return &copy, nil
}

// ──────────────────────────────────────────────
// MOCK SYNC JOB REPOSITORY
// ──────────────────────────────────────────────

// MockSyncJobRepository is a mock implementation of SyncJobRepository.
type MockSyncJobRepository struct {
	db *MemoryDB

	// Error injection
	CreateError error
}

// NewMockSyncJobRepository creates a new mock sync job repository.
func NewMockSyncJobRepository(db *MemoryDB) *MockSyncJobRepository {
	return &MockSyncJobRepository{db: db}
}

func (m *MockSyncJobRepository) Create(ctx context.Context, job *domain.SyncJob) (bool, error) {
	if m.CreateError != nil {
		return false, m.CreateError
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, j := range m.db.jobs {
		if j.PaymentLinkID == job.PaymentLinkID {
			return false, nil
		}
	}
	copy := *job
	m.db.jobs[job.ID] = &copy
	m.db.wrote()
	return true, nil
}

func (m *MockSyncJobRepository) GetByLinkID(ctx context.Context, linkID string) (*domain.SyncJob, error) {
	jobs := m.db.Jobs(linkID)
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

func (m *MockSyncJobRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*domain.SyncJob, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var result []*domain.SyncJob
	for id, j := range m.db.jobs {
		if j.Status != domain.SyncJobStatusPending && j.Status != domain.SyncJobStatusRetrying {
			continue
		}
		if j.NextRetryAt.After(now) {
			continue
		}
		if until, ok := m.db.claimed[id]; ok && until.After(now) {
			continue
		}
		m.db.claimed[id] = now.Add(lease)
		copy := *j
		result = append(result, &copy)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockSyncJobRepository) MarkSuccess(ctx context.Context, id string) error {
	return m.update(id, func(j *domain.SyncJob) {
		j.Status = domain.SyncJobStatusSuccess
		j.LastError = ""
	})
}

func (m *MockSyncJobRepository) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	return m.update(id, func(j *domain.SyncJob) {
		j.Status = domain.SyncJobStatusRetrying
		j.RetryCount = retryCount
		j.NextRetryAt = nextRetryAt
		j.LastError = lastError
	})
}

func (m *MockSyncJobRepository) MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error {
	return m.update(id, func(j *domain.SyncJob) {
		j.Status = domain.SyncJobStatusFailed
		j.RetryCount = retryCount
		j.LastError = lastError
	})
}

func (m *MockSyncJobRepository) ResetFailed(ctx context.Context, orgID string) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n := 0
	for _, j := range m.db.jobs {
		if j.Status != domain.SyncJobStatusFailed || (orgID != "" && j.OrganizationID != orgID) {
			continue
		}
		j.Status = domain.SyncJobStatusPending
		j.RetryCount = 0
		j.NextRetryAt = time.Now()
		n++
	}
	if n > 0 {
		m.db.wrote()
	}
	return n, nil
}

func (m *MockSyncJobRepository) CountByStatus(ctx context.Context) (map[domain.SyncJobStatus]int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	counts := make(map[domain.SyncJobStatus]int)
	for _, j := range m.db.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *MockSyncJobRepository) update(id string, apply func(*domain.SyncJob)) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	j, ok := m.db.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	apply(j)
	j.UpdatedAt = time.Now()
	delete(m.db.claimed, id)
	m.db.wrote()
	return nil
}

// ──────────────────────────────────────────────
// MOCK CONSISTENCY REPOSITORY
// ──────────────────────────────────────────────

// MockConsistencyRepository computes consistency counts over a MemoryDB.
type MockConsistencyRepository struct {
	db *MemoryDB
}

// NewMockConsistencyRepository creates a new mock consistency repository.
func NewMockConsistencyRepository(db *MemoryDB) *MockConsistencyRepository {
	return &MockConsistencyRepository{db: db}
}

func (m *MockConsistencyRepository) Counts(ctx context.Context) (*domain.ConsistencyCounts, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var counts domain.ConsistencyCounts
	for _, l := range m.db.links {
		if l.Status != domain.PaymentLinkStatusPaid {
			continue
		}
		counts.PaidLinks++

		var hasEvent, hasEntries, hasJob bool
		for _, e := range m.db.events {
			if e.PaymentLinkID == l.ID && e.Type == domain.PaymentEventConfirmed {
				hasEvent = true
			}
		}
		for _, e := range m.db.entries {
			if e.PaymentLinkID == l.ID {
				hasEntries = true
			}
		}
		for _, j := range m.db.jobs {
			if j.PaymentLinkID == l.ID {
				hasJob = true
			}
		}

		if !hasEvent {
			counts.PaidWithoutConfirmedEvent++
		}
		if !hasEntries {
			counts.PaidWithoutLedgerEntries++
		}
		if !hasJob {
			counts.PaidWithoutSyncJob++
		}
	}
	return &counts, nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is an in-memory lease store with atomic acquisition.
type MockLockStore struct {
	mu     sync.Mutex
	leases map[string]*domain.PaymentLock

	// Counters for verification
	AcquireCallCount int32
	AcquireSuccess   int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{leases: make(map[string]*domain.PaymentLock)}
}

func (m *MockLockStore) Acquire(ctx context.Context, linkID, holder string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if lease, ok := m.leases[linkID]; ok && lease.ExpiresAt.After(now) {
		return false, nil
	}
	m.leases[linkID] = &domain.PaymentLock{PaymentLinkID: linkID, Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	atomic.AddInt32(&m.AcquireSuccess, 1)
	return true, nil
}

func (m *MockLockStore) Release(ctx context.Context, linkID, holder string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if lease, ok := m.leases[linkID]; ok && lease.Holder == holder {
		delete(m.leases, linkID)
	}
	return nil
}

func (m *MockLockStore) Get(ctx context.Context, linkID string) (*domain.PaymentLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lease, ok := m.leases[linkID]
	if !ok || !lease.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	copy := *lease
	return &copy, nil
}

// Hold takes the lease on behalf of a foreign holder.
func (m *MockLockStore) Hold(linkID string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.leases[linkID] = &domain.PaymentLock{PaymentLinkID: linkID, Holder: "someone-else", AcquiredAt: now, ExpiresAt: now.Add(ttl)}
}

// Held reports whether an unexpired lease exists.
func (m *MockLockStore) Held(linkID string) bool {
	lease, _ := m.Get(context.Background(), linkID)
	return lease != nil
}

// ──────────────────────────────────────────────
// MOCK ACCOUNTING CLIENT
// ──────────────────────────────────────────────

// MockAccountingClient records sync calls and returns scripted results.
type MockAccountingClient struct {
	mu       sync.Mutex
	payments []*accounting.Payment

	// Respond, if set, decides the outcome of each call.
	Respond func(call int, payment *accounting.Payment) error

	// Counters for verification
	CallCount int32
}

// NewMockAccountingClient creates a client that accepts every payment.
func NewMockAccountingClient() *MockAccountingClient {
	return &MockAccountingClient{}
}

func (m *MockAccountingClient) SyncPayment(ctx context.Context, payment *accounting.Payment) error {
	call := int(atomic.AddInt32(&m.CallCount, 1))
	m.mu.Lock()
	copy := *payment
	m.payments = append(m.payments, &copy)
	m.mu.Unlock()
	if m.Respond != nil {
		return m.Respond(call, payment)
	}
	return nil
}

// Payments returns every payload sent so far.
func (m *MockAccountingClient) Payments() []*accounting.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*accounting.Payment(nil), m.payments...)
}

// ──────────────────────────────────────────────
// MOCK RATE SOURCE
// ──────────────────────────────────────────────

// MockRateSource returns fixed rates keyed "ASSET/QUOTE".
type MockRateSource struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal

	// Counters for verification
	CallCount int32
}

// NewMockRateSource creates a new mock rate source.
func NewMockRateSource() *MockRateSource {
	return &MockRateSource{rates: make(map[string]decimal.Decimal)}
}

// SetRate sets the rate of a pair.
func (m *MockRateSource) SetRate(asset, quote, rate string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[asset+"/"+quote] = decimal.RequireFromString(rate)
}

// ClearRate removes a pair so lookups fail.
func (m *MockRateSource) ClearRate(asset, quote string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rates, asset+"/"+quote)
}

func (m *MockRateSource) Rate(ctx context.Context, asset, quote string) (decimal.Decimal, error) {
	atomic.AddInt32(&m.CallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[asset+"/"+quote]
	if !ok {
		return decimal.Zero, errors.New("no rate for " + asset + "/" + quote)
	}
	return rate, nil
}

func (m *MockRateSource) Source() string {
	return "mock"
}

// Ensure mocks implement the repository interfaces.
var (
	_ repository.PaymentLinkRepository  = (*MockPaymentLinkRepository)(nil)
	_ repository.PaymentEventRepository = (*MockPaymentEventRepository)(nil)
	_ repository.ConfirmationStore      = (*MockConfirmationStore)(nil)
	_ repository.LedgerRepository       = (*MockLedgerRepository)(nil)
	_ repository.FxSnapshotRepository   = (*MockFxSnapshotRepository)(nil)
	_ repository.SyncJobRepository      = (*MockSyncJobRepository)(nil)
	_ repository.ConsistencyRepository  = (*MockConsistencyRepository)(nil)
	_ repository.LockStore              = (*MockLockStore)(nil)
	_ repository.LockInspector          = (*MockLockStore)(nil)
)
