package repository

import (
	"context"

	"paylink/internal/domain"
)

// ConsistencyRepository runs read-only cross-table checks.
type ConsistencyRepository interface {
	// Counts returns the number of PAID links missing each downstream record.
	Counts(ctx context.Context) (*domain.ConsistencyCounts, error)
}
