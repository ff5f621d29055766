package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/service"
)

// wiseCompletedStates are transfer states after which the funds are final.
// funds_converted precedes sending and can still be canceled or bounce.
var wiseCompletedStates = map[string]bool{
	"outgoing_payment_sent": true,
}

// wiseNotification accepts both the state-change webhook envelope and the
// flat form {transferId, status}.
type wiseNotification struct {
	TransferID json.Number `json:"transferId"`
	Status     string      `json:"status"`
	Data       struct {
		Resource struct {
			ID   json.Number `json:"id"`
			Type string      `json:"type"`
		} `json:"resource"`
		CurrentState string `json:"current_state"`
	} `json:"data"`
}

func (n wiseNotification) transferID() string {
	if n.TransferID != "" {
		return n.TransferID.String()
	}
	return n.Data.Resource.ID.String()
}

type wiseTransfer struct {
	ID             int64           `json:"id"`
	Reference      string          `json:"reference"`
	Status         string          `json:"status"`
	TargetValue    decimal.Decimal `json:"targetValue"`
	TargetCurrency string          `json:"targetCurrency"`
	Fee            decimal.Decimal `json:"fee"`
}

// WiseAdapter confirms bank transfers. Notification payloads are treated as
// hints; the transfer is re-read from the API before confirming.
type WiseAdapter struct {
	confirmer  service.ConfirmationServiceInterface
	apiURL     string
	token      string
	httpClient *http.Client
}

// NewWiseAdapter creates a new WiseAdapter.
func NewWiseAdapter(confirmer service.ConfirmationServiceInterface, apiURL, token string) *WiseAdapter {
	return &WiseAdapter{
		confirmer:  confirmer,
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// HandleNotification applies one transfer state notification.
func (a *WiseAdapter) HandleNotification(ctx context.Context, payload []byte, correlationID string) (*Result, error) {
	var n wiseNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	transferID := n.transferID()
	if _, err := strconv.ParseInt(transferID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: transfer id %q", ErrMalformedPayload, transferID)
	}

	transfer, err := a.fetchTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}

	if !wiseCompletedStates[transfer.Status] {
		return ignored("transfer " + transferID + " is " + transfer.Status), nil
	}

	linkID := strings.TrimSpace(transfer.Reference)
	if linkID == "" {
		return nil, ErrMissingPaymentLink
	}

	slog.InfoContext(ctx, "wise transfer complete",
		"correlation_id", correlationID,
		"payment_link_id", linkID,
		"transfer_id", transferID,
		"status", transfer.Status,
	)

	result, err := a.confirmer.ConfirmPayment(ctx, service.ConfirmationRequest{
		PaymentLinkID:     linkID,
		Provider:          domain.ProviderWise,
		ExternalReference: transferID,
		Amount:            transfer.TargetValue,
		Currency:          strings.ToUpper(transfer.TargetCurrency),
		Fee:               transfer.Fee,
		CorrelationID:     correlationID,
		Finalized:         true,
		Metadata: map[string]string{
			"wise_status": transfer.Status,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Result{Confirmation: result}, nil
}

func (a *WiseAdapter) fetchTransfer(ctx context.Context, transferID string) (*wiseTransfer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL+"/v1/transfers/"+transferID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: transfer %s returned %d", ErrUpstream, transferID, resp.StatusCode)
	}

	var transfer wiseTransfer
	if err := json.NewDecoder(resp.Body).Decode(&transfer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return &transfer, nil
}
