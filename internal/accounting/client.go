// Package accounting pushes confirmed payments to the external accounting
// system.
package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Error is a non-2xx response from the accounting system.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("accounting system returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the response may succeed on a later attempt.
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable classifies a sync failure. HTTP 429 and 5xx, timeouts and
// transport errors are retryable; other 4xx responses are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Anything that never produced a response (connection refused, reset,
	// DNS failure) is a transport problem.
	return !errors.Is(err, ErrInvalidPayment)
}

// ErrInvalidPayment is returned when a payload cannot be built for a job.
var ErrInvalidPayment = errors.New("invalid payment payload")

// Payment is the payload sent for one confirmed payment link.
type Payment struct {
	Reference      string          `json:"reference"`
	PaymentLinkID  string          `json:"payment_link_id"`
	ShortCode      string          `json:"short_code"`
	OrganizationID string          `json:"organization_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Provider       string          `json:"provider"`
	PaidAt         time.Time       `json:"paid_at"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
}

// Client is an HTTP accounting system client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new accounting client. Per-call deadlines come from the
// caller's context.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// SyncPayment posts one payment. The reference is sent as the idempotency
// key so a retried job never creates a second record downstream.
func (c *Client) SyncPayment(ctx context.Context, payment *Payment) error {
	if payment.Reference == "" || payment.PaymentLinkID == "" {
		return ErrInvalidPayment
	}

	body, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayment, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payment.Reference)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payment.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", payment.CorrelationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("accounting request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	// A duplicate reference means an earlier attempt already landed.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}
