package adapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/service"
)

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

const defaultStripeTolerance = 5 * time.Minute

// stripePaidStatuses are object states that mean funds were captured.
var stripePaidStatuses = map[string]bool{
	"succeeded": true,
	"complete":  true,
	"paid":      true,
}

// stripePaidEvents are the event types that may confirm a payment.
var stripePaidEvents = map[string]bool{
	"payment_intent.succeeded":   true,
	"charge.succeeded":           true,
	"checkout.session.completed": true,
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

type stripeObject struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	AmountTotal    int64  `json:"amount_total"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	// BalanceTransaction is an id unless the event was expanded, in which
	// case it carries the processing fee.
	BalanceTransaction json.RawMessage   `json:"balance_transaction"`
	Metadata           map[string]string `json:"metadata"`
}

// fee returns the processing fee in minor units, or zero when the balance
// transaction is not expanded. Without it only the gross legs are posted.
func (o stripeObject) fee() int64 {
	raw := bytes.TrimSpace(o.BalanceTransaction)
	if len(raw) == 0 || raw[0] != '{' {
		return 0
	}
	var txn struct {
		Fee int64 `json:"fee"`
	}
	if err := json.Unmarshal(raw, &txn); err != nil || txn.Fee < 0 {
		return 0
	}
	return txn.Fee
}

// received picks the captured amount, which differs by object type.
func (o stripeObject) received() int64 {
	switch {
	case o.AmountReceived > 0:
		return o.AmountReceived
	case o.AmountTotal > 0:
		return o.AmountTotal
	default:
		return o.Amount
	}
}

func (o stripeObject) paid() bool {
	return stripePaidStatuses[o.Status] || stripePaidStatuses[o.PaymentStatus]
}

// StripeAdapter handles card processor webhooks.
type StripeAdapter struct {
	confirmer service.ConfirmationServiceInterface
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewStripeAdapter creates a new StripeAdapter.
func NewStripeAdapter(confirmer service.ConfirmationServiceInterface, secret string, tolerance time.Duration) *StripeAdapter {
	if tolerance <= 0 {
		tolerance = defaultStripeTolerance
	}
	return &StripeAdapter{
		confirmer: confirmer,
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// HandleWebhook verifies and applies one webhook delivery.
func (a *StripeAdapter) HandleWebhook(ctx context.Context, payload []byte, signature, correlationID string) (*Result, error) {
	if err := a.VerifySignature(payload, signature); err != nil {
		return nil, err
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if !stripePaidEvents[event.Type] {
		return ignored("event type " + event.Type + " does not confirm payments"), nil
	}

	object := event.Data.Object
	if !object.paid() {
		return ignored("object status " + object.Status + object.PaymentStatus + " is not paid"), nil
	}

	linkID := object.Metadata["payment_link_id"]
	if linkID == "" {
		return nil, ErrMissingPaymentLink
	}

	if id := object.Metadata["correlation_id"]; id != "" {
		correlationID = id
	}

	reference := object.ID
	if reference == "" {
		reference = event.ID
	}

	currency := strings.ToUpper(object.Currency)
	req := service.ConfirmationRequest{
		PaymentLinkID:     linkID,
		Provider:          domain.ProviderStripe,
		ExternalReference: reference,
		Amount:            fromMinorUnits(object.received(), currency),
		Currency:          currency,
		Fee:               decimal.Zero,
		CorrelationID:     correlationID,
		Finalized:         true,
		Metadata: map[string]string{
			"stripe_event_id":   event.ID,
			"stripe_event_type": event.Type,
		},
	}
	if fee := object.fee(); fee > 0 {
		req.Fee = fromMinorUnits(fee, currency)
	}

	slog.DebugContext(ctx, "stripe webhook accepted",
		"correlation_id", correlationID,
		"payment_link_id", linkID,
		"stripe_event_id", event.ID,
	)

	result, err := a.confirmer.ConfirmPayment(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Result{Confirmation: result}, nil
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header against the payload.
// Any v1 signature may match; the timestamp must be within tolerance.
func (a *StripeAdapter) VerifySignature(payload []byte, header string) error {
	if a.secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: missing timestamp or v1 signature", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}

	age := a.now().Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if age > a.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := SignStripePayload(a.secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// SignStripePayload computes the hex v1 signature of a payload.
func SignStripePayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
