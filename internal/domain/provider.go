package domain

// Provider identifies a payment rail.
type Provider string

const (
	ProviderStripe Provider = "STRIPE"
	ProviderHedera Provider = "HEDERA"
	ProviderWise   Provider = "WISE"
)

// Valid reports whether p is one of the supported rails.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderHedera, ProviderWise:
		return true
	}
	return false
}

// IsCrypto reports whether the rail settles on a distributed ledger.
func (p Provider) IsCrypto() bool {
	return p == ProviderHedera
}
