package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayment() *Payment {
	return &Payment{
		Reference:      "sync-job-1",
		PaymentLinkID:  "pl-1",
		OrganizationID: "org-1",
		Amount:         decimal.RequireFromString("100.00"),
		Currency:       "USD",
		Provider:       "STRIPE",
		PaidAt:         time.Now(),
	}
}

func TestClient_SyncPayment_SendsIdempotencyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "sync-job-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var got Payment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "pl-1", got.PaymentLinkID)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	require.NoError(t, client.SyncPayment(context.Background(), testPayment()))
}

func TestClient_SyncPayment_ConflictIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	assert.NoError(t, NewClient(server.URL, "").SyncPayment(context.Background(), testPayment()))
}

func TestClient_SyncPayment_Classification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			err := NewClient(server.URL, "").SyncPayment(context.Background(), testPayment())
			require.Error(t, err)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestClient_SyncPayment_TimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewClient(server.URL, "").SyncPayment(ctx, testPayment())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable_InvalidPayload(t *testing.T) {
	err := NewClient("http://unused", "").SyncPayment(context.Background(), &Payment{})
	assert.ErrorIs(t, err, ErrInvalidPayment)
	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryable(nil))
}
