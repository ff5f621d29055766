package repository

import (
	"context"
	"time"

	"paylink/internal/domain"
)

// LockStore is a storage-level lease primitive keyed by payment link ID.
type LockStore interface {
	// Acquire atomically takes the lease for holder. Returns false if another
	// holder has an unexpired lease.
	Acquire(ctx context.Context, linkID, holder string, ttl time.Duration) (bool, error)

	// Release drops the lease if holder still owns it. Releasing an absent
	// lease is not an error.
	Release(ctx context.Context, linkID, holder string) error
}

// LockInspector exposes the current lease of a link for operators.
type LockInspector interface {
	// Get returns the current lease, or nil if none exists.
	Get(ctx context.Context, linkID string) (*domain.PaymentLock, error)
}
