package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/metrics"
	"paylink/internal/repository"
	"paylink/pkg/logging"
)

// ConfirmationServiceInterface defines the confirmation contract used by the
// provider adapters.
type ConfirmationServiceInterface interface {
	ConfirmPayment(ctx context.Context, req ConfirmationRequest) (*ConfirmationResult, error)
}

// Ensure ConfirmationService implements ConfirmationServiceInterface.
var _ ConfirmationServiceInterface = (*ConfirmationService)(nil)

// ConfirmationRequest is the normalized payment signal an adapter extracted
// from its provider.
type ConfirmationRequest struct {
	PaymentLinkID     string
	Provider          domain.Provider
	ExternalReference string
	Amount            decimal.Decimal
	Currency          string
	// Asset is the token actually received when it differs from Currency,
	// e.g. USDC on a distributed ledger. Optional.
	Asset         string
	Fee           decimal.Decimal
	CorrelationID string
	// Finalized must be true for crypto rails; the adapter owns finality.
	Finalized bool
	Metadata  map[string]string
}

// ConfirmationResult describes the outcome of an accepted confirmation.
type ConfirmationResult struct {
	PaymentLinkID    string                   `json:"payment_link_id"`
	Status           domain.PaymentLinkStatus `json:"status"`
	AlreadyProcessed bool                     `json:"already_processed"`
	EventID          string                   `json:"event_id,omitempty"`
	LedgerPosted     bool                     `json:"ledger_posted"`
	SyncEnqueued     bool                     `json:"sync_enqueued"`
	Warnings         []string                 `json:"warnings,omitempty"`
}

// ConfirmationService turns provider payment signals into exactly one PAID
// transition per payment link, with ledger posting and downstream sync as
// best-effort follow-ups.
type ConfirmationService struct {
	linkRepo     repository.PaymentLinkRepository
	eventRepo    repository.PaymentEventRepository
	confirmStore repository.ConfirmationStore
	idempotency  *IdempotencyService
	fx           *FxService
	ledger       *LedgerService
	syncQueue    *SyncQueue
	notifier     *NotificationService
	tolerances   *ToleranceTable
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewConfirmationService creates a new ConfirmationService.
func NewConfirmationService(
	linkRepo repository.PaymentLinkRepository,
	eventRepo repository.PaymentEventRepository,
	confirmStore repository.ConfirmationStore,
	idempotency *IdempotencyService,
	fx *FxService,
	ledger *LedgerService,
	syncQueue *SyncQueue,
	notifier *NotificationService,
	tolerances *ToleranceTable,
	m *metrics.Metrics,
) *ConfirmationService {
	if tolerances == nil {
		tolerances = NewToleranceTable(nil)
	}
	return &ConfirmationService{
		linkRepo:     linkRepo,
		eventRepo:    eventRepo,
		confirmStore: confirmStore,
		idempotency:  idempotency,
		fx:           fx,
		ledger:       ledger,
		syncQueue:    syncQueue,
		notifier:     notifier,
		tolerances:   tolerances,
		metrics:      m,
		now:          time.Now,
	}
}

// ConfirmPayment applies a provider payment signal to its payment link.
//
// Replays and signals for an already PAID link succeed with
// AlreadyProcessed set and write nothing. Only failures before the PAID
// write are returned as errors; ledger and sync failures after it are
// reported as warnings.
func (s *ConfirmationService) ConfirmPayment(ctx context.Context, req ConfirmationRequest) (*ConfirmationResult, error) {
	if err := validateConfirmationRequest(req); err != nil {
		s.metrics.Confirmation(string(req.Provider), "invalid")
		return nil, err
	}

	unit := receivedUnit(req)
	logger := slog.With(
		"correlation_id", req.CorrelationID,
		"payment_link_id", req.PaymentLinkID,
		"provider", req.Provider,
	)

	// Step 1: load the link.
	link, err := s.linkRepo.GetByID(ctx, req.PaymentLinkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.Confirmation(string(req.Provider), "not_found")
			return nil, newConfirmationError(KindNotFound, ErrPaymentLinkNotFound, "no payment link "+req.PaymentLinkID, "")
		}
		return nil, fmt.Errorf("load payment link: %w", err)
	}

	if link.Status == domain.PaymentLinkStatusPaid {
		logger.InfoContext(ctx, "payment link already paid", "external_reference", req.ExternalReference)
		return s.alreadyProcessed(req, domain.PaymentLinkStatusPaid, ""), nil
	}

	// Step 2: event-log duplicate check.
	dup, err := s.idempotency.CheckDuplicate(ctx, link.ID, req.ExternalReference, req.Provider)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if dup.IsDuplicate {
		logger.InfoContext(ctx, "duplicate confirmation ignored",
			"external_reference", req.ExternalReference,
			"existing_event_id", dup.ExistingEventID,
		)
		result := s.alreadyProcessed(req, link.Status, dup.ExistingEventID)
		if dup.ConfirmedLinkID != "" && dup.ConfirmedLinkID != link.ID {
			result.Warnings = append(result.Warnings,
				"external reference "+req.ExternalReference+" already confirmed payment link "+dup.ConfirmedLinkID)
		}
		return result, nil
	}

	// Step 3: payable-state check.
	if v := s.idempotency.ValidateAttempt(link, req.Provider.IsCrypto(), s.now()); !v.Allowed {
		logger.WarnContext(ctx, "confirmation rejected", "reason", v.Reason, "status", v.CurrentStatus)
		s.metrics.Confirmation(string(req.Provider), "invalid_state")
		return nil, newConfirmationError(KindInvalidState, ErrInvalidState, v.Reason, v.CurrentStatus)
	}

	if req.Provider.IsCrypto() && !req.Finalized {
		s.metrics.Confirmation(string(req.Provider), "not_finalized")
		cerr := newConfirmationError(KindInvalidRequest, ErrNotFinalized, "transaction "+req.ExternalReference+" is not final", link.Status)
		cerr.Retryable = true
		return nil, cerr
	}

	// Step 4: per-link lease.
	token, acquired, err := s.idempotency.AcquireLock(ctx, link.ID)
	if err != nil {
		return nil, fmt.Errorf("acquire payment lock: %w", err)
	}
	if !acquired {
		logger.WarnContext(ctx, "payment link lock held by another confirmation")
		s.metrics.Contention()
		s.metrics.Confirmation(string(req.Provider), "lock_contention")
		return nil, newConfirmationError(KindLockContention, ErrLockContention, "another confirmation is in progress", link.Status)
	}
	// Step 9: release on every path past this point.
	defer s.idempotency.ReleaseLock(ctx, link.ID, token)

	// The previous holder may have finished between Step 1 and Step 4.
	link, err = s.linkRepo.GetByID(ctx, link.ID)
	if err != nil {
		return nil, fmt.Errorf("reload payment link: %w", err)
	}
	if link.Status == domain.PaymentLinkStatusPaid {
		logger.InfoContext(ctx, "payment link paid by concurrent confirmation")
		return s.alreadyProcessed(req, domain.PaymentLinkStatusPaid, ""), nil
	}
	if v := s.idempotency.ValidateAttempt(link, req.Provider.IsCrypto(), s.now()); !v.Allowed {
		s.metrics.Confirmation(string(req.Provider), "invalid_state")
		return nil, newConfirmationError(KindInvalidState, ErrInvalidState, v.Reason, v.CurrentStatus)
	}

	s.recordAttempt(ctx, link, req, unit)

	// Step 5: amount tolerance against the creation rate.
	expected, err := s.expectedAmount(ctx, link, unit)
	if err != nil {
		s.metrics.Confirmation(string(req.Provider), "rate_unavailable")
		return nil, err
	}

	tolerance := s.tolerances.For(unit)
	if !WithinTolerance(expected, req.Amount, tolerance) {
		deviation := Deviation(expected, req.Amount)
		reason := fmt.Sprintf("received %s %s, expected %s %s (deviation %s, tolerance %s)",
			req.Amount, unit, expected.StringFixed(8), unit, deviation.StringFixed(6), tolerance)
		logger.WarnContext(ctx, "amount outside tolerance",
			"received", req.Amount.String(),
			"expected", expected.String(),
			"deviation", deviation.String(),
			"tolerance", tolerance.String(),
		)
		s.recordFailure(ctx, link, req, unit, reason)
		s.metrics.Confirmation(string(req.Provider), "amount_mismatch")
		return nil, newConfirmationError(KindAmountMismatch, ErrAmountMismatch, reason, link.Status)
	}

	// Step 6: atomic PAID write with the confirmation event.
	event := &domain.PaymentEvent{
		ID:                uuid.New().String(),
		PaymentLinkID:     link.ID,
		Type:              domain.PaymentEventConfirmed,
		Provider:          req.Provider,
		ExternalReference: req.ExternalReference,
		Amount:            req.Amount,
		Currency:          unit,
		CorrelationID:     req.CorrelationID,
		Metadata:          confirmationMetadata(req),
		CreatedAt:         s.now(),
	}

	if err := s.confirmStore.MarkPaid(ctx, link.ID, event); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrDuplicate) {
			return s.resolveLostRace(ctx, req, link.ID)
		}
		return nil, fmt.Errorf("mark payment link paid: %w", err)
	}

	link.Status = domain.PaymentLinkStatusPaid
	link.UpdatedAt = event.CreatedAt
	logger.InfoContext(ctx, "payment confirmed",
		"event_id", event.ID,
		"external_reference", req.ExternalReference,
		"amount", req.Amount.String(),
		"currency", unit,
	)
	s.metrics.Confirmation(string(req.Provider), "confirmed")

	result := &ConfirmationResult{
		PaymentLinkID: link.ID,
		Status:        domain.PaymentLinkStatusPaid,
		EventID:       event.ID,
	}

	// Steps 7 and 8 run even if the caller goes away; the payment is final.
	sideCtx := context.WithoutCancel(ctx)
	s.postLedger(sideCtx, logger, link, req, unit, result)
	s.enqueueSync(sideCtx, logger, link, req.CorrelationID, result)

	if s.notifier != nil {
		if err := s.notifier.NotifyPaymentReceived(sideCtx, link, req.Provider, req.CorrelationID); err != nil {
			logger.WarnContext(ctx, "merchant notification failed", "error", err)
		}
	}

	return result, nil
}

// postLedger captures the settlement rate and writes the posting.
func (s *ConfirmationService) postLedger(ctx context.Context, logger *slog.Logger, link *domain.PaymentLink, req ConfirmationRequest, unit string, result *ConfirmationResult) {
	if s.ledger == nil {
		return
	}

	rate := decimal.NewFromInt(1)
	if !strings.EqualFold(unit, link.Currency) {
		var err error
		rate, err = s.fx.SettlementRate(ctx, link.ID, unit, link.Currency)
		if err != nil {
			logging.Critical(ctx, "settlement rate unavailable; ledger posting deferred to reconciliation",
				"correlation_id", req.CorrelationID,
				"payment_link_id", link.ID,
				"error", err,
			)
			result.Warnings = append(result.Warnings, "ledger posting deferred: settlement rate unavailable")
			return
		}
	}

	_, err := s.ledger.Post(ctx, PostingRequest{
		PaymentLinkID:  link.ID,
		OrganizationID: link.OrganizationID,
		Provider:       req.Provider,
		Gross:          req.Amount,
		Fee:            req.Fee,
		Currency:       unit,
		LedgerCurrency: link.Currency,
		Rate:           rate,
	})
	if err != nil {
		logging.Critical(ctx, "ledger posting failed after confirmation",
			"correlation_id", req.CorrelationID,
			"payment_link_id", link.ID,
			"provider", req.Provider,
			"error", err,
		)
		result.Warnings = append(result.Warnings, "ledger posting failed: "+err.Error())
		return
	}

	logger.DebugContext(ctx, "ledger posted")
	result.LedgerPosted = true
}

// enqueueSync schedules the downstream push. Lost enqueues are recovered by
// the backfill sweep.
func (s *ConfirmationService) enqueueSync(ctx context.Context, logger *slog.Logger, link *domain.PaymentLink, correlationID string, result *ConfirmationResult) {
	if s.syncQueue == nil {
		return
	}

	if _, err := s.syncQueue.Enqueue(ctx, link, correlationID); err != nil {
		logger.ErrorContext(ctx, "sync enqueue failed; backfill will retry", "error", err)
		result.Warnings = append(result.Warnings, "sync enqueue failed: "+err.Error())
		return
	}

	result.SyncEnqueued = true
}

// expectedAmount returns the link amount expressed in the received unit,
// converted at the creation rate when the two differ.
func (s *ConfirmationService) expectedAmount(ctx context.Context, link *domain.PaymentLink, unit string) (decimal.Decimal, error) {
	if strings.EqualFold(unit, link.Currency) {
		return link.Amount, nil
	}

	if s.fx == nil {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, unit, link.Currency)
	}

	rate, err := s.fx.CreationRate(ctx, link.ID, unit, link.Currency)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive rate %s for %s/%s", ErrRateUnavailable, rate, unit, link.Currency)
	}

	return link.Amount.DivRound(rate, 8), nil
}

// resolveLostRace handles a MarkPaid that lost to a concurrent write.
func (s *ConfirmationService) resolveLostRace(ctx context.Context, req ConfirmationRequest, linkID string) (*ConfirmationResult, error) {
	link, err := s.linkRepo.GetByID(ctx, linkID)
	if err != nil {
		return nil, fmt.Errorf("reload payment link after conflict: %w", err)
	}

	if link.Status == domain.PaymentLinkStatusPaid {
		slog.InfoContext(ctx, "confirmation lost race to concurrent writer",
			"correlation_id", req.CorrelationID,
			"payment_link_id", linkID,
			"provider", req.Provider,
		)
		return s.alreadyProcessed(req, domain.PaymentLinkStatusPaid, ""), nil
	}

	s.metrics.Confirmation(string(req.Provider), "invalid_state")
	return nil, newConfirmationError(KindInvalidState, ErrInvalidState, "payment link is "+string(link.Status), link.Status)
}

// alreadyProcessed reports a replay. status is the link's own status, which
// stays OPEN when the reference confirmed a different link.
func (s *ConfirmationService) alreadyProcessed(req ConfirmationRequest, status domain.PaymentLinkStatus, eventID string) *ConfirmationResult {
	s.metrics.Confirmation(string(req.Provider), "already_processed")
	return &ConfirmationResult{
		PaymentLinkID:    req.PaymentLinkID,
		Status:           status,
		AlreadyProcessed: true,
		EventID:          eventID,
	}
}

// recordAttempt appends a PAYMENT_ATTEMPTED audit event. Best-effort.
func (s *ConfirmationService) recordAttempt(ctx context.Context, link *domain.PaymentLink, req ConfirmationRequest, unit string) {
	s.appendAudit(ctx, &domain.PaymentEvent{
		ID:                uuid.New().String(),
		PaymentLinkID:     link.ID,
		Type:              domain.PaymentEventAttempted,
		Provider:          req.Provider,
		ExternalReference: req.ExternalReference,
		Amount:            req.Amount,
		Currency:          unit,
		CorrelationID:     req.CorrelationID,
		CreatedAt:         s.now(),
	})
}

// recordFailure appends a PAYMENT_FAILED audit event and informs the merchant.
// The link status is left untouched.
func (s *ConfirmationService) recordFailure(ctx context.Context, link *domain.PaymentLink, req ConfirmationRequest, unit, reason string) {
	s.appendAudit(ctx, &domain.PaymentEvent{
		ID:                uuid.New().String(),
		PaymentLinkID:     link.ID,
		Type:              domain.PaymentEventFailed,
		Provider:          req.Provider,
		ExternalReference: req.ExternalReference,
		Amount:            req.Amount,
		Currency:          unit,
		CorrelationID:     req.CorrelationID,
		Metadata:          map[string]string{"reason": reason},
		CreatedAt:         s.now(),
	})

	if s.notifier != nil {
		if err := s.notifier.NotifyPaymentRejected(ctx, link, req.Provider, reason); err != nil {
			slog.WarnContext(ctx, "merchant notification failed", "payment_link_id", link.ID, "error", err)
		}
	}
}

func (s *ConfirmationService) appendAudit(ctx context.Context, event *domain.PaymentEvent) {
	if err := s.eventRepo.Append(ctx, event); err != nil {
		slog.WarnContext(ctx, "audit event not recorded",
			"payment_link_id", event.PaymentLinkID,
			"event_type", event.Type,
			"error", err,
		)
	}
}

func validateConfirmationRequest(req ConfirmationRequest) error {
	invalid := func(sentinel error, reason string) error {
		return newConfirmationError(KindInvalidRequest, sentinel, reason, "")
	}

	if req.PaymentLinkID == "" {
		return invalid(ErrInvalidPaymentLinkID, "payment link id is required")
	}
	if !req.Provider.Valid() {
		return invalid(ErrInvalidProvider, "unknown provider "+string(req.Provider))
	}
	if req.ExternalReference == "" {
		return invalid(ErrInvalidExternalReference, "external reference is required")
	}
	if !req.Amount.IsPositive() {
		return invalid(ErrInvalidAmount, "amount must be positive")
	}
	if req.Fee.IsNegative() || req.Fee.GreaterThan(req.Amount) {
		return invalid(ErrInvalidAmount, "fee must be between zero and the amount")
	}
	if receivedUnit(req) == "" {
		return invalid(ErrInvalidCurrency, "currency is required")
	}
	return nil
}

// receivedUnit is the currency or token the payer actually sent.
func receivedUnit(req ConfirmationRequest) string {
	if req.Asset != "" {
		return strings.ToUpper(req.Asset)
	}
	return strings.ToUpper(req.Currency)
}

func confirmationMetadata(req ConfirmationRequest) map[string]string {
	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Fee.IsPositive() {
		metadata[metadataFeeKey] = req.Fee.String()
	}
	return metadata
}
