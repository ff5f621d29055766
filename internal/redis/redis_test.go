package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockStore_AcquireIsExclusive(t *testing.T) {
	_, client := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "pl-1", "holder-a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, "pl-1", "holder-b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a live lease")

	ok, err = store.Acquire(ctx, "pl-2", "holder-b", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "different links lock independently")
}

func TestLockStore_ExpiredLeaseCanBeTaken(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "pl-1", "holder-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = store.Acquire(ctx, "pl-1", "holder-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockStore_ReleaseOnlyOwnLease(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	_, err := store.Acquire(ctx, "pl-1", "holder-a", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	_, err = store.Acquire(ctx, "pl-1", "holder-b", 30*time.Second)
	require.NoError(t, err)

	// Stale holder releasing after expiry must not drop holder-b's lease.
	require.NoError(t, store.Release(ctx, "pl-1", "holder-a"))
	ok, err := store.Acquire(ctx, "pl-1", "holder-c", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, "pl-1", "holder-b"))
	require.NoError(t, store.Release(ctx, "pl-1", "holder-b"), "release is idempotent")

	ok, err = store.Acquire(ctx, "pl-1", "holder-c", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockStore_GetReportsHolderAndExpiry(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewLockStore(client)
	ctx := context.Background()

	lease, err := store.Get(ctx, "pl-1")
	require.NoError(t, err)
	assert.Nil(t, lease)

	_, err = store.Acquire(ctx, "pl-1", "holder-a", 30*time.Second)
	require.NoError(t, err)

	lease, err = store.Get(ctx, "pl-1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "holder-a", lease.Holder)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), lease.ExpiresAt, 2*time.Second)

	mr.FastForward(31 * time.Second)
	lease, err = store.Get(ctx, "pl-1")
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestRateCache_RoundTripAndExpiry(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewRateCache(client, time.Minute)
	ctx := context.Background()

	miss, err := cache.Get(ctx, "HBAR", "USD")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, cache.Set(ctx, "hbar", "usd", &CachedRate{
		Rate:     decimal.RequireFromString("0.0725"),
		Source:   "coingecko",
		CachedAt: time.Now(),
	}))

	hit, err := cache.Get(ctx, "HBAR", "USD")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.Rate.Equal(decimal.RequireFromString("0.0725")))
	assert.Equal(t, "coingecko", hit.Source)

	mr.FastForward(2 * time.Minute)
	expired, err := cache.Get(ctx, "HBAR", "USD")
	require.NoError(t, err)
	assert.Nil(t, expired)
}
