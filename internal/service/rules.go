package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"paylink/internal/domain"
)

// AccountSpec names a chart-of-accounts node a posting rule writes to.
type AccountSpec struct {
	Code string
	Name string
	Type domain.AccountType
}

// PostingRule is the fixed set of accounts one provider posts against.
type PostingRule struct {
	Clearing AccountSpec
	Revenue  AccountSpec
	Fee      AccountSpec
}

var revenueAccount = AccountSpec{Code: "4000", Name: "Payment Link Revenue", Type: domain.AccountTypeRevenue}

// postingRules is keyed by the closed provider set.
var postingRules = map[domain.Provider]PostingRule{
	domain.ProviderStripe: {
		Clearing: AccountSpec{Code: "1010", Name: "Stripe Clearing", Type: domain.AccountTypeAsset},
		Revenue:  revenueAccount,
		Fee:      AccountSpec{Code: "6100", Name: "Card Processing Fees", Type: domain.AccountTypeExpense},
	},
	domain.ProviderHedera: {
		Clearing: AccountSpec{Code: "1050", Name: "Hedera Wallet", Type: domain.AccountTypeAsset},
		Revenue:  revenueAccount,
		Fee:      AccountSpec{Code: "6200", Name: "Network Fees", Type: domain.AccountTypeExpense},
	},
	domain.ProviderWise: {
		Clearing: AccountSpec{Code: "1020", Name: "Wise Clearing", Type: domain.AccountTypeAsset},
		Revenue:  revenueAccount,
		Fee:      AccountSpec{Code: "6300", Name: "Bank Transfer Fees", Type: domain.AccountTypeExpense},
	},
}

// PostingRuleFor returns the posting rule of a provider.
func PostingRuleFor(provider domain.Provider) (PostingRule, bool) {
	rule, ok := postingRules[provider]
	return rule, ok
}

// Default fractional tolerances by asset.
var (
	fiatTolerance     = decimal.RequireFromString("0.005")
	volatileTolerance = decimal.RequireFromString("0.02")
)

var defaultTolerances = map[string]decimal.Decimal{
	"USD":  fiatTolerance,
	"EUR":  fiatTolerance,
	"GBP":  fiatTolerance,
	"AUD":  fiatTolerance,
	"CAD":  fiatTolerance,
	"USDC": fiatTolerance,
	"HBAR": volatileTolerance,
}

// ToleranceTable resolves the allowed fractional deviation per asset.
type ToleranceTable struct {
	byAsset map[string]decimal.Decimal
}

// NewToleranceTable builds the table from defaults and overrides.
func NewToleranceTable(overrides map[string]decimal.Decimal) *ToleranceTable {
	byAsset := make(map[string]decimal.Decimal, len(defaultTolerances)+len(overrides))
	for asset, tol := range defaultTolerances {
		byAsset[asset] = tol
	}
	for asset, tol := range overrides {
		byAsset[strings.ToUpper(asset)] = tol
	}
	return &ToleranceTable{byAsset: byAsset}
}

// For returns the tolerance of an asset. Unknown assets get the fiat default.
func (t *ToleranceTable) For(asset string) decimal.Decimal {
	if tol, ok := t.byAsset[strings.ToUpper(asset)]; ok {
		return tol
	}
	return fiatTolerance
}

// Deviation returns |received - expected| / expected.
func Deviation(expected, received decimal.Decimal) decimal.Decimal {
	if !expected.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return received.Sub(expected).Abs().Div(expected)
}

// WithinTolerance reports whether received is within tol of expected. A
// deviation exactly equal to tol is accepted.
func WithinTolerance(expected, received, tol decimal.Decimal) bool {
	return Deviation(expected, received).LessThanOrEqual(tol)
}
