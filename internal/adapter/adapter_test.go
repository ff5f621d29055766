package adapter

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"paylink/internal/domain"
	"paylink/internal/service"
)

// recordingConfirmer captures confirmation requests.
type recordingConfirmer struct {
	mu       sync.Mutex
	requests []service.ConfirmationRequest
	err      error
}

func (r *recordingConfirmer) ConfirmPayment(ctx context.Context, req service.ConfirmationRequest) (*service.ConfirmationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	return &service.ConfirmationResult{PaymentLinkID: req.PaymentLinkID, Status: domain.PaymentLinkStatusPaid}, nil
}

func (r *recordingConfirmer) last(t *testing.T) service.ConfirmationRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		t.Fatal("expected a confirmation request")
	}
	return r.requests[len(r.requests)-1]
}

func (r *recordingConfirmer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func TestFromMinorUnits(t *testing.T) {
	assert.True(t, fromMinorUnits(9980, "usd").Equal(decimal.RequireFromString("99.80")))
	assert.True(t, fromMinorUnits(1500, "JPY").Equal(decimal.NewFromInt(1500)))
	assert.True(t, fromMinorUnits(1, "EUR").Equal(decimal.RequireFromString("0.01")))
}
