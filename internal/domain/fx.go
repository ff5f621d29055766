package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FxSnapshotType marks when a rate was captured.
type FxSnapshotType string

const (
	FxSnapshotCreation   FxSnapshotType = "CREATION"
	FxSnapshotSettlement FxSnapshotType = "SETTLEMENT"
)

// FxSnapshot is an immutable captured exchange rate: one unit of Asset is worth
// Rate units of QuoteCurrency.
type FxSnapshot struct {
	ID            string
	PaymentLinkID string
	Type          FxSnapshotType
	Asset         string
	QuoteCurrency string
	Rate          decimal.Decimal
	Source        string
	CapturedAt    time.Time
}
