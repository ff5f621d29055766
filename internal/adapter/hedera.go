package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/service"
)

// hbarDecimals is the decimal exponent of the native asset (tinybars).
const hbarDecimals = 8

var (
	// ErrTransactionFailed is returned when a transaction reached consensus
	// with a result other than SUCCESS.
	ErrTransactionFailed = errors.New("transaction did not succeed")

	// ErrNoMerchantTransfer is returned when a transaction credits nothing to
	// the merchant account.
	ErrNoMerchantTransfer = errors.New("transaction credits no merchant account")
)

type mirrorTransactions struct {
	Transactions []mirrorTransaction `json:"transactions"`
}

type mirrorTransaction struct {
	TransactionID      string                `json:"transaction_id"`
	ConsensusTimestamp string                `json:"consensus_timestamp"`
	Result             string                `json:"result"`
	ChargedTxFee       int64                 `json:"charged_tx_fee"`
	Transfers          []mirrorTransfer      `json:"transfers"`
	TokenTransfers     []mirrorTokenTransfer `json:"token_transfers"`
}

type mirrorTransfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type mirrorTokenTransfer struct {
	TokenID string `json:"token_id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type mirrorToken struct {
	Decimals string `json:"decimals"`
}

// HederaConfig holds mirror API settings.
type HederaConfig struct {
	MirrorURL       string
	MerchantAccount string
	// Tokens maps token IDs to asset codes.
	Tokens       map[string]string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// HederaAdapter confirms distributed-ledger transfers by reading the mirror
// API until the transaction is final.
type HederaAdapter struct {
	confirmer  service.ConfirmationServiceInterface
	cfg        HederaConfig
	httpClient *http.Client

	mu            sync.RWMutex
	tokenDecimals map[string]int32
}

// NewHederaAdapter creates a new HederaAdapter.
func NewHederaAdapter(confirmer service.ConfirmationServiceInterface, cfg HederaConfig) *HederaAdapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	cfg.MirrorURL = strings.TrimRight(cfg.MirrorURL, "/")

	return &HederaAdapter{
		confirmer:     confirmer,
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		tokenDecimals: make(map[string]int32),
	}
}

// ConfirmTransaction waits for the transaction to finalize and applies it to
// the payment link.
func (a *HederaAdapter) ConfirmTransaction(ctx context.Context, linkID, transactionID, correlationID string) (*Result, error) {
	if linkID == "" {
		return nil, ErrMissingPaymentLink
	}

	txID, err := NormalizeTransactionID(transactionID)
	if err != nil {
		return nil, err
	}

	tx, err := a.awaitFinality(ctx, txID)
	if err != nil {
		return nil, err
	}

	amount, asset, err := a.merchantCredit(ctx, tx)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "hedera transaction final",
		"correlation_id", correlationID,
		"payment_link_id", linkID,
		"transaction_id", txID,
		"consensus_timestamp", tx.ConsensusTimestamp,
		"amount", amount.String(),
		"asset", asset,
	)

	result, err := a.confirmer.ConfirmPayment(ctx, service.ConfirmationRequest{
		PaymentLinkID:     linkID,
		Provider:          domain.ProviderHedera,
		ExternalReference: txID,
		Amount:            amount,
		Currency:          asset,
		CorrelationID:     correlationID,
		Finalized:         true,
		Metadata: map[string]string{
			"consensus_timestamp": tx.ConsensusTimestamp,
			"merchant_account":    a.cfg.MerchantAccount,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Result{Confirmation: result}, nil
}

// awaitFinality polls until the mirror reports a consensus timestamp, the
// poll timeout elapses, or ctx is done.
func (a *HederaAdapter) awaitFinality(ctx context.Context, txID string) (*mirrorTransaction, error) {
	pollCtx, cancel := context.WithTimeout(ctx, a.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		tx, err := a.fetchTransaction(pollCtx, txID)
		if err != nil && !errors.Is(err, service.ErrNotFinalized) {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s after %s", service.ErrNotFinalized, txID, a.cfg.PollTimeout)
			}
			return nil, err
		}

		if tx != nil {
			if tx.Result != "SUCCESS" {
				return nil, fmt.Errorf("%w: %s", ErrTransactionFailed, tx.Result)
			}
			return tx, nil
		}

		select {
		case <-pollCtx.Done():
			return nil, fmt.Errorf("%w: %s after %s", service.ErrNotFinalized, txID, a.cfg.PollTimeout)
		case <-ticker.C:
		}
	}
}

// fetchTransaction returns the finalized transaction, or ErrNotFinalized if
// the mirror does not have it yet.
func (a *HederaAdapter) fetchTransaction(ctx context.Context, txID string) (*mirrorTransaction, error) {
	var body mirrorTransactions
	status, err := a.getJSON(ctx, "/api/v1/transactions/"+txID, &body)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, service.ErrNotFinalized
		}
		return nil, err
	}

	for i := range body.Transactions {
		tx := &body.Transactions[i]
		// Scheduled and child records share the payer prefix; the parent
		// carries the requested id exactly.
		if tx.TransactionID != "" && tx.TransactionID != txID {
			continue
		}
		if tx.ConsensusTimestamp == "" {
			return nil, service.ErrNotFinalized
		}
		return tx, nil
	}

	return nil, service.ErrNotFinalized
}

// merchantCredit sums what the transaction credits to the merchant account.
// A configured token transfer takes precedence over native transfers, which
// also carry network fees. Credits in more than one configured token are
// ambiguous and rejected.
func (a *HederaAdapter) merchantCredit(ctx context.Context, tx *mirrorTransaction) (decimal.Decimal, string, error) {
	tokenTotals := make(map[string]int64)
	for _, t := range tx.TokenTransfers {
		if t.Account != a.cfg.MerchantAccount || t.Amount <= 0 {
			continue
		}
		if _, ok := a.cfg.Tokens[t.TokenID]; ok {
			tokenTotals[t.TokenID] += t.Amount
		}
	}

	if len(tokenTotals) > 1 {
		ids := make([]string, 0, len(tokenTotals))
		for tokenID := range tokenTotals {
			ids = append(ids, tokenID)
		}
		sort.Strings(ids)
		return decimal.Zero, "", fmt.Errorf("%w: transaction credits several configured tokens %s",
			ErrMalformedPayload, strings.Join(ids, ","))
	}

	for tokenID, total := range tokenTotals {
		decimals, err := a.decimalsOf(ctx, tokenID)
		if err != nil {
			return decimal.Zero, "", err
		}
		return decimal.New(total, -decimals), strings.ToUpper(a.cfg.Tokens[tokenID]), nil
	}

	var tinybars int64
	for _, t := range tx.Transfers {
		if t.Account == a.cfg.MerchantAccount && t.Amount > 0 {
			tinybars += t.Amount
		}
	}

	if tinybars == 0 {
		return decimal.Zero, "", fmt.Errorf("%w: %s", ErrNoMerchantTransfer, a.cfg.MerchantAccount)
	}

	return decimal.New(tinybars, -hbarDecimals), "HBAR", nil
}

// knownTokenDecimals avoids a lookup for common stable tokens.
var knownTokenDecimals = map[string]int32{
	"USDC": 6,
	"USDT": 6,
}

func (a *HederaAdapter) decimalsOf(ctx context.Context, tokenID string) (int32, error) {
	if d, ok := knownTokenDecimals[strings.ToUpper(a.cfg.Tokens[tokenID])]; ok {
		return d, nil
	}

	a.mu.RLock()
	d, ok := a.tokenDecimals[tokenID]
	a.mu.RUnlock()
	if ok {
		return d, nil
	}

	var token mirrorToken
	if _, err := a.getJSON(ctx, "/api/v1/tokens/"+tokenID, &token); err != nil {
		return 0, err
	}

	parsed, err := strconv.ParseInt(token.Decimals, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: token %s decimals %q", ErrMalformedPayload, tokenID, token.Decimals)
	}

	a.mu.Lock()
	a.tokenDecimals[tokenID] = int32(parsed)
	a.mu.Unlock()

	return int32(parsed), nil
}

func (a *HederaAdapter) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.MirrorURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("%w: mirror returned %d for %s", ErrUpstream, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return resp.StatusCode, nil
}

// NormalizeTransactionID converts "0.0.123@1700000000.000000001" to the mirror
// form "0.0.123-1700000000-000000001". Mirror-form ids pass through.
func NormalizeTransactionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if account, ts, ok := strings.Cut(id, "@"); ok {
		secs, nanos, ok := strings.Cut(ts, ".")
		if !ok || account == "" || secs == "" || nanos == "" {
			return "", fmt.Errorf("%w: transaction id %q", ErrMalformedPayload, id)
		}
		return account + "-" + secs + "-" + nanos, nil
	}

	if strings.Count(id, "-") != 2 {
		return "", fmt.Errorf("%w: transaction id %q", ErrMalformedPayload, id)
	}
	return id, nil
}
