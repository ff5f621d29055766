package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the side of a double-entry leg.
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// AccountType classifies a chart-of-accounts node.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// LedgerAccount is a chart-of-accounts node scoped to an organization.
type LedgerAccount struct {
	ID             string
	OrganizationID string
	Code           string
	Name           string
	Type           AccountType
}

// LedgerEntry is one leg of a posting. Entries are never mutated.
type LedgerEntry struct {
	ID             string
	PaymentLinkID  string
	AccountID      string
	AccountCode    string
	Type           EntryType
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
	CreatedAt      time.Time
}
