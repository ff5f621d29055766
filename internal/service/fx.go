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
	"paylink/internal/redis"
	"paylink/internal/repository"
)

// RateSource provides spot exchange rates.
type RateSource interface {
	Rate(ctx context.Context, asset, quote string) (decimal.Decimal, error)
	Source() string
}

// lateSettlementWindow is how long after settlement a captured rate still
// counts as the settlement rate.
const lateSettlementWindow = time.Minute

// lateSourceSuffix marks snapshots captured outside lateSettlementWindow.
const lateSourceSuffix = "+late"

// pegged assets trade 1:1 with their quote currency.
var pegged = map[string]string{
	"USDC": "USD",
}

// CachedRateSource wraps a RateSource with a Redis cache.
type CachedRateSource struct {
	source RateSource
	cache  redis.RateCacheInterface
}

// NewCachedRateSource creates a new CachedRateSource.
func NewCachedRateSource(source RateSource, cache redis.RateCacheInterface) *CachedRateSource {
	return &CachedRateSource{source: source, cache: cache}
}

// Source names the underlying feed.
func (s *CachedRateSource) Source() string {
	return s.source.Source()
}

// Rate returns a cached rate, or fetches and caches a fresh one. Cache errors
// fall through to the feed.
func (s *CachedRateSource) Rate(ctx context.Context, asset, quote string) (decimal.Decimal, error) {
	if cached, err := s.cache.Get(ctx, asset, quote); err == nil && cached != nil {
		return cached.Rate, nil
	} else if err != nil {
		slog.WarnContext(ctx, "rate cache read failed", "asset", asset, "quote", quote, "error", err)
	}

	rate, err := s.source.Rate(ctx, asset, quote)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.cache.Set(ctx, asset, quote, &redis.CachedRate{Rate: rate, Source: s.source.Source(), CachedAt: time.Now()}); err != nil {
		slog.WarnContext(ctx, "rate cache write failed", "asset", asset, "quote", quote, "error", err)
	}

	return rate, nil
}

// FxService records exchange-rate snapshots at link creation and settlement.
type FxService struct {
	snapshotRepo repository.FxSnapshotRepository
	rates        RateSource
	now          func() time.Time
}

// NewFxService creates a new FxService.
func NewFxService(snapshotRepo repository.FxSnapshotRepository, rates RateSource) *FxService {
	return &FxService{
		snapshotRepo: snapshotRepo,
		rates:        rates,
		now:          time.Now,
	}
}

// CaptureCreation records the rate at link-creation time. The amount
// tolerance check is computed against this rate.
func (s *FxService) CaptureCreation(ctx context.Context, linkID, asset, quote string) (*domain.FxSnapshot, error) {
	return s.capture(ctx, linkID, domain.FxSnapshotCreation, asset, quote, time.Time{})
}

// CaptureSettlement records the rate at confirmation time. Ledger conversion
// of non-native legs uses this rate.
func (s *FxService) CaptureSettlement(ctx context.Context, linkID, asset, quote string) (*domain.FxSnapshot, error) {
	return s.capture(ctx, linkID, domain.FxSnapshotSettlement, asset, quote, time.Time{})
}

// CreationRate returns the creation rate of a pair. If no creation snapshot
// exists, one is captured now so later calls agree on the same rate.
func (s *FxService) CreationRate(ctx context.Context, linkID, asset, quote string) (decimal.Decimal, error) {
	snapshot, err := s.CaptureCreation(ctx, linkID, asset, quote)
	if err != nil {
		return decimal.Zero, err
	}
	return snapshot.Rate, nil
}

// SettlementRate returns the settlement rate of a pair, capturing it if needed.
func (s *FxService) SettlementRate(ctx context.Context, linkID, asset, quote string) (decimal.Decimal, error) {
	return s.SettlementRateAt(ctx, linkID, asset, quote, time.Time{})
}

// SettlementRateAt is SettlementRate for a payment settled at settledAt. A
// snapshot captured more than lateSettlementWindow after settledAt has its
// source marked late, so it is not mistaken for an at-settlement rate.
func (s *FxService) SettlementRateAt(ctx context.Context, linkID, asset, quote string, settledAt time.Time) (decimal.Decimal, error) {
	snapshot, err := s.capture(ctx, linkID, domain.FxSnapshotSettlement, asset, quote, settledAt)
	if err != nil {
		return decimal.Zero, err
	}
	return snapshot.Rate, nil
}

// capture writes an immutable snapshot. An existing snapshot for the same
// link, type and pair wins; same-currency pairs are rate 1 and not stored.
// A zero effectiveAt means the rate is wanted as of now.
func (s *FxService) capture(ctx context.Context, linkID string, snapshotType domain.FxSnapshotType, asset, quote string, effectiveAt time.Time) (*domain.FxSnapshot, error) {
	asset = strings.ToUpper(asset)
	quote = strings.ToUpper(quote)

	if asset == quote {
		return &domain.FxSnapshot{
			PaymentLinkID: linkID,
			Type:          snapshotType,
			Asset:         asset,
			QuoteCurrency: quote,
			Rate:          decimal.NewFromInt(1),
			Source:        "identity",
			CapturedAt:    s.now(),
		}, nil
	}

	existing, err := s.snapshotRepo.Get(ctx, linkID, snapshotType, asset, quote)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	rate, source, err := s.lookup(ctx, asset, quote)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if lag := now.Sub(effectiveAt); !effectiveAt.IsZero() && lag > lateSettlementWindow {
		source += lateSourceSuffix
		slog.WarnContext(ctx, "fx rate captured after the payment settled",
			"payment_link_id", linkID,
			"type", snapshotType,
			"pair", asset+"/"+quote,
			"settled_at", effectiveAt,
			"lag", lag.Round(time.Second).String(),
		)
	}

	snapshot := &domain.FxSnapshot{
		ID:            uuid.New().String(),
		PaymentLinkID: linkID,
		Type:          snapshotType,
		Asset:         asset,
		QuoteCurrency: quote,
		Rate:          rate,
		Source:        source,
		CapturedAt:    now,
	}

	if err := s.snapshotRepo.Create(ctx, snapshot); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.snapshotRepo.Get(ctx, linkID, snapshotType, asset, quote)
		}
		return nil, err
	}

	slog.DebugContext(ctx, "fx snapshot captured",
		"payment_link_id", linkID,
		"type", snapshotType,
		"pair", asset+"/"+quote,
		"rate", rate.String(),
	)

	return snapshot, nil
}

func (s *FxService) lookup(ctx context.Context, asset, quote string) (decimal.Decimal, string, error) {
	if peg, ok := pegged[asset]; ok && peg == quote {
		return decimal.NewFromInt(1), "peg", nil
	}

	if s.rates == nil {
		return decimal.Zero, "", fmt.Errorf("%w: %s/%s", ErrRateUnavailable, asset, quote)
	}

	rate, err := s.rates.Rate(ctx, asset, quote)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("%w: %s/%s: %v", ErrRateUnavailable, asset, quote, err)
	}

	return rate, s.rates.Source(), nil
}
