package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"paylink/internal/domain"
)

// LedgerRepository defines the persistence operations for the ledger.
type LedgerRepository interface {
	// EnsureAccount returns the account with the given code for an
	// organization, creating it if absent.
	EnsureAccount(ctx context.Context, account *domain.LedgerAccount) (*domain.LedgerAccount, error)

	// CreatePosting writes all entries atomically. Entries whose idempotency
	// key already exists are skipped. Returns the number of entries inserted.
	CreatePosting(ctx context.Context, entries []*domain.LedgerEntry) (int, error)

	// ListByLink returns all entries of a payment link.
	ListByLink(ctx context.Context, linkID string) ([]*domain.LedgerEntry, error)

	// SumByLink returns the debit and credit totals of a payment link.
	SumByLink(ctx context.Context, linkID string) (debits, credits decimal.Decimal, err error)

	// ListUnbalancedLinks returns link IDs whose debits and credits differ by
	// more than tolerance.
	ListUnbalancedLinks(ctx context.Context, tolerance decimal.Decimal, limit int) ([]string, error)
}
