// Package pricefeed fetches spot exchange rates from an HTTP JSON price API
// shaped like CoinGecko's simple/price endpoint.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable is returned when the feed has no rate for a pair.
var ErrRateUnavailable = errors.New("rate unavailable")

// assetIDs maps asset codes to feed identifiers.
var assetIDs = map[string]string{
	"HBAR": "hedera-hashgraph",
	"USDC": "usd-coin",
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
}

// Client is an HTTP price feed client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new price feed client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Source names the feed in FX snapshots.
func (c *Client) Source() string {
	return "coingecko"
}

// Rate returns how many units of quote one unit of asset is worth.
func (c *Client) Rate(ctx context.Context, asset, quote string) (decimal.Decimal, error) {
	id, ok := assetIDs[strings.ToUpper(asset)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown asset %s", ErrRateUnavailable, asset)
	}
	vs := strings.ToLower(quote)

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", c.baseURL, url.QueryEscape(id), url.QueryEscape(vs))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	var body map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price feed response: %w", err)
	}

	rate, ok := body[id][vs]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, asset, quote)
	}

	return rate, nil
}
