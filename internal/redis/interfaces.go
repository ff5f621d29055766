package redis

import (
	"context"
	"time"

	"paylink/internal/domain"
)

// LockStoreInterface defines the interface for distributed leases.
type LockStoreInterface interface {
	Acquire(ctx context.Context, linkID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, linkID, holder string) error
	Get(ctx context.Context, linkID string) (*domain.PaymentLock, error)
}

// RateCacheInterface defines the interface for exchange rate caching.
type RateCacheInterface interface {
	Get(ctx context.Context, asset, quote string) (*CachedRate, error)
	Set(ctx context.Context, asset, quote string, rate *CachedRate) error
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface = (*LockStore)(nil)
	_ RateCacheInterface = (*RateCache)(nil)
)
