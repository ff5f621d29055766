package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const rateCachePrefix = "cache:fx:"

// CachedRate represents a cached exchange rate.
type CachedRate struct {
	Rate     decimal.Decimal `json:"rate"`
	Source   string          `json:"source"`
	CachedAt time.Time       `json:"cached_at"`
}

// RateCache caches exchange rates in Redis so bursts of confirmations do not
// hammer the price feed.
type RateCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRateCache creates a new RateCache.
func NewRateCache(client redis.UniversalClient, ttl time.Duration) *RateCache {
	return &RateCache{client: client, ttl: ttl}
}

func rateKey(asset, quote string) string {
	return rateCachePrefix + strings.ToUpper(asset) + ":" + strings.ToUpper(quote)
}

// Get retrieves a rate from cache. Returns nil on a cache miss.
func (c *RateCache) Get(ctx context.Context, asset, quote string) (*CachedRate, error) {
	data, err := c.client.Get(ctx, rateKey(asset, quote)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var rate CachedRate
	if err := json.Unmarshal(data, &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

// Set stores a rate in cache.
func (c *RateCache) Set(ctx context.Context, asset, quote string, rate *CachedRate) error {
	data, err := json.Marshal(rate)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rateKey(asset, quote), data, c.ttl).Err()
}
