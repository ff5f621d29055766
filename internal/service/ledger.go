package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

// balanceTolerance is the largest debit/credit difference treated as balanced.
var balanceTolerance = decimal.RequireFromString("0.01")

// metadataFeeKey carries the provider fee on a PAYMENT_CONFIRMED event.
const metadataFeeKey = "fee"

// PostingRequest contains the parameters for posting one confirmed payment.
type PostingRequest struct {
	PaymentLinkID  string
	OrganizationID string
	Provider       domain.Provider
	Gross          decimal.Decimal
	Fee            decimal.Decimal
	// Currency is the currency or asset the payment settled in.
	Currency string
	// LedgerCurrency is the currency the ledger is kept in (the link's).
	LedgerCurrency string
	// Rate converts one unit of Currency into LedgerCurrency.
	Rate decimal.Decimal
}

// BalanceReport is the outcome of a balance check for one link.
type BalanceReport struct {
	PaymentLinkID string          `json:"payment_link_id"`
	Debits        decimal.Decimal `json:"debits"`
	Credits       decimal.Decimal `json:"credits"`
	Difference    decimal.Decimal `json:"difference"`
	Balanced      bool            `json:"balanced"`
}

// PostingResult contains the entries of a posting and the balance after it.
type PostingResult struct {
	Entries  []*domain.LedgerEntry
	Inserted int
	Balance  BalanceReport
}

// LedgerService converts confirmed payments into balanced double-entry postings.
type LedgerService struct {
	ledgerRepo repository.LedgerRepository
	linkRepo   repository.PaymentLinkRepository
	eventRepo  repository.PaymentEventRepository
	fx         *FxService
	metrics    *metrics.Metrics
	strict     bool
	now        func() time.Time
}

// NewLedgerService creates a new LedgerService. In strict mode an unbalanced
// posting is rejected instead of only reported.
func NewLedgerService(
	ledgerRepo repository.LedgerRepository,
	linkRepo repository.PaymentLinkRepository,
	eventRepo repository.PaymentEventRepository,
	fx *FxService,
	m *metrics.Metrics,
	strict bool,
) *LedgerService {
	return &LedgerService{
		ledgerRepo: ledgerRepo,
		linkRepo:   linkRepo,
		eventRepo:  eventRepo,
		fx:         fx,
		metrics:    m,
		strict:     strict,
		now:        time.Now,
	}
}

// IdempotencyKey derives the deterministic key of one leg.
func IdempotencyKey(linkID, accountCode string, entryType domain.EntryType) string {
	sum := sha256.Sum256([]byte(linkID + "|" + accountCode + "|" + string(entryType)))
	return hex.EncodeToString(sum[:])
}

// Post writes the balanced legs of a payment. Retrying the same posting
// inserts nothing new because every leg carries a deterministic key.
func (s *LedgerService) Post(ctx context.Context, req PostingRequest) (*PostingResult, error) {
	rule, ok := PostingRuleFor(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrLedgerPosting, ErrInvalidProvider, req.Provider)
	}

	if !req.Gross.IsPositive() || req.Fee.IsNegative() || req.Fee.GreaterThan(req.Gross) {
		return nil, fmt.Errorf("%w: %w: gross %s fee %s", ErrLedgerPosting, ErrInvalidAmount, req.Gross, req.Fee)
	}

	ledgerCurrency := strings.ToUpper(req.LedgerCurrency)
	if ledgerCurrency == "" {
		ledgerCurrency = strings.ToUpper(req.Currency)
	}

	gross, fee := req.Gross, req.Fee
	if !strings.EqualFold(req.Currency, ledgerCurrency) {
		if !req.Rate.IsPositive() {
			return nil, fmt.Errorf("%w: %w: %s/%s", ErrLedgerPosting, ErrRateUnavailable, req.Currency, ledgerCurrency)
		}
		gross = gross.Mul(req.Rate).Round(2)
		fee = fee.Mul(req.Rate).Round(2)
	}

	accounts := make(map[string]*domain.LedgerAccount, 3)
	for _, spec := range []AccountSpec{rule.Clearing, rule.Revenue, rule.Fee} {
		account, err := s.ledgerRepo.EnsureAccount(ctx, &domain.LedgerAccount{
			OrganizationID: req.OrganizationID,
			Code:           spec.Code,
			Name:           spec.Name,
			Type:           spec.Type,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: ensure account %s: %v", ErrLedgerPosting, spec.Code, err)
		}
		accounts[spec.Code] = account
	}

	now := s.now()
	leg := func(spec AccountSpec, entryType domain.EntryType, amount decimal.Decimal, description string) *domain.LedgerEntry {
		return &domain.LedgerEntry{
			ID:             uuid.New().String(),
			PaymentLinkID:  req.PaymentLinkID,
			AccountID:      accounts[spec.Code].ID,
			AccountCode:    spec.Code,
			Type:           entryType,
			Amount:         amount,
			Currency:       ledgerCurrency,
			IdempotencyKey: IdempotencyKey(req.PaymentLinkID, spec.Code, entryType),
			Description:    description,
			CreatedAt:      now,
		}
	}

	provider := strings.ToLower(string(req.Provider))
	entries := []*domain.LedgerEntry{
		leg(rule.Clearing, domain.EntryTypeDebit, gross, "gross receipt via "+provider),
		leg(rule.Revenue, domain.EntryTypeCredit, gross, "payment link revenue"),
	}
	if fee.IsPositive() {
		entries = append(entries,
			leg(rule.Fee, domain.EntryTypeDebit, fee, provider+" fee"),
			leg(rule.Clearing, domain.EntryTypeCredit, fee, provider+" fee withheld"),
		)
	}

	if report := balanceOf(req.PaymentLinkID, entries); !report.Balanced && s.strict {
		s.metrics.Posting("rejected")
		return nil, fmt.Errorf("%w: proposed posting differs by %s", ErrLedgerImbalance, report.Difference)
	}

	inserted, err := s.ledgerRepo.CreatePosting(ctx, entries)
	if err != nil {
		s.metrics.Posting("failed")
		return nil, fmt.Errorf("%w: %v", ErrLedgerPosting, err)
	}
	s.metrics.Posting("posted")

	balance, err := s.ValidateBalance(ctx, req.PaymentLinkID)
	result := &PostingResult{Entries: entries, Inserted: inserted, Balance: balance}
	if err != nil {
		return result, err
	}

	slog.InfoContext(ctx, "ledger posting written",
		"payment_link_id", req.PaymentLinkID,
		"provider", req.Provider,
		"legs", len(entries),
		"inserted", inserted,
		"gross", gross.String(),
		"fee", fee.String(),
		"currency", ledgerCurrency,
	)

	return result, nil
}

// ValidateBalance sums the link's legs. A difference above 0.01 is logged at
// CRITICAL level; only strict mode turns it into an error.
func (s *LedgerService) ValidateBalance(ctx context.Context, linkID string) (BalanceReport, error) {
	debits, credits, err := s.ledgerRepo.SumByLink(ctx, linkID)
	if err != nil {
		return BalanceReport{PaymentLinkID: linkID}, err
	}

	report := newBalanceReport(linkID, debits, credits)
	if !report.Balanced {
		s.metrics.Imbalance()
		logging.Critical(ctx, "ledger balance invariant violated",
			"payment_link_id", linkID,
			"debits", debits.String(),
			"credits", credits.String(),
			"difference", report.Difference.String(),
		)
		if s.strict {
			return report, fmt.Errorf("%w: link %s differs by %s", ErrLedgerImbalance, linkID, report.Difference)
		}
	}

	return report, nil
}

// ListEntries returns the ledger legs of a link.
func (s *LedgerService) ListEntries(ctx context.Context, linkID string) ([]*domain.LedgerEntry, error) {
	if linkID == "" {
		return nil, ErrInvalidPaymentLinkID
	}
	return s.ledgerRepo.ListByLink(ctx, linkID)
}

// ListUnbalanced returns links whose postings violate the balance invariant.
func (s *LedgerService) ListUnbalanced(ctx context.Context, limit int) ([]string, error) {
	return s.ledgerRepo.ListUnbalancedLinks(ctx, balanceTolerance, limit)
}

// ReconcileMissing re-posts PAID links that have no ledger entries, using
// their PAYMENT_CONFIRMED event as the source of truth. Returns the number of
// links posted.
func (s *LedgerService) ReconcileMissing(ctx context.Context, limit int) (int, error) {
	links, err := s.linkRepo.ListPaidWithoutLedgerEntries(ctx, limit)
	if err != nil {
		return 0, err
	}

	posted := 0
	for _, link := range links {
		event, err := s.eventRepo.GetConfirmedForLink(ctx, link.ID)
		if err != nil {
			return posted, err
		}
		if event == nil {
			logging.Critical(ctx, "paid link has no confirmation event",
				"payment_link_id", link.ID,
			)
			continue
		}

		req, err := s.requestFromEvent(ctx, link, event)
		if err != nil {
			slog.ErrorContext(ctx, "cannot rebuild posting", "payment_link_id", link.ID, "error", err)
			continue
		}

		if _, err := s.Post(ctx, req); err != nil {
			logging.Critical(ctx, "reconciliation posting failed",
				"payment_link_id", link.ID,
				"error", err,
			)
			continue
		}
		posted++
	}

	return posted, nil
}

// requestFromEvent rebuilds the posting of a confirmed payment.
func (s *LedgerService) requestFromEvent(ctx context.Context, link *domain.PaymentLink, event *domain.PaymentEvent) (PostingRequest, error) {
	req := PostingRequest{
		PaymentLinkID:  link.ID,
		OrganizationID: link.OrganizationID,
		Provider:       event.Provider,
		Gross:          event.Amount,
		Fee:            feeFromMetadata(event.Metadata),
		Currency:       event.Currency,
		LedgerCurrency: link.Currency,
		Rate:           decimal.NewFromInt(1),
	}

	if !strings.EqualFold(event.Currency, link.Currency) {
		if s.fx == nil {
			return req, ErrRateUnavailable
		}
		rate, err := s.fx.SettlementRateAt(ctx, link.ID, event.Currency, link.Currency, event.CreatedAt)
		if err != nil {
			return req, err
		}
		req.Rate = rate
	}

	return req, nil
}

func feeFromMetadata(metadata map[string]string) decimal.Decimal {
	if raw, ok := metadata[metadataFeeKey]; ok {
		if fee, err := decimal.NewFromString(raw); err == nil && !fee.IsNegative() {
			return fee
		}
	}
	return decimal.Zero
}

func balanceOf(linkID string, entries []*domain.LedgerEntry) BalanceReport {
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case domain.EntryTypeDebit:
			debits = debits.Add(e.Amount)
		case domain.EntryTypeCredit:
			credits = credits.Add(e.Amount)
		}
	}
	return newBalanceReport(linkID, debits, credits)
}

func newBalanceReport(linkID string, debits, credits decimal.Decimal) BalanceReport {
	diff := debits.Sub(credits).Abs()
	return BalanceReport{
		PaymentLinkID: linkID,
		Debits:        debits,
		Credits:       credits,
		Difference:    diff,
		Balanced:      diff.LessThanOrEqual(balanceTolerance),
	}
}
