package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paylink/internal/domain"
)

// releaseScript deletes the key only if it still holds the caller's token, so
// a holder whose lease expired cannot drop a lease taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed payment link leases in Redis.
type LockStore struct {
	client redis.UniversalClient
}

// NewLockStore creates a new LockStore.
func NewLockStore(client redis.UniversalClient) *LockStore {
	return &LockStore{client: client}
}

func paymentLinkLockKey(linkID string) string {
	return fmt.Sprintf("lock:payment-link:%s", linkID)
}

// Acquire attempts to take the lease for holder.
// Returns true if the lease was acquired, false if already held.
func (s *LockStore) Acquire(ctx context.Context, linkID, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, paymentLinkLockKey(linkID), holder, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// Release drops the lease if holder still owns it.
func (s *LockStore) Release(ctx context.Context, linkID, holder string) error {
	return releaseScript.Run(ctx, s.client, []string{paymentLinkLockKey(linkID)}, holder).Err()
}

// Get returns the current lease, or nil if none exists. AcquiredAt is not
// tracked by Redis and is left zero.
func (s *LockStore) Get(ctx context.Context, linkID string) (*domain.PaymentLock, error) {
	key := paymentLinkLockKey(linkID)

	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	return &domain.PaymentLock{
		PaymentLinkID: linkID,
		Holder:        holder,
		ExpiresAt:     time.Now().Add(ttl),
	}, nil
}
