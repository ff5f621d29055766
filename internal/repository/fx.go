package repository

import (
	"context"

	"paylink/internal/domain"
)

// FxSnapshotRepository defines the persistence operations for FX snapshots.
type FxSnapshotRepository interface {
	// Create persists a snapshot. Returns ErrDuplicate if one already exists
	// for the same link, type and pair.
	Create(ctx context.Context, snapshot *domain.FxSnapshot) error

	// Get returns the snapshot for a link, type and pair, or nil if absent.
	Get(ctx context.Context, linkID string, snapshotType domain.FxSnapshotType, asset, quote string) (*domain.FxSnapshot, error)
}
