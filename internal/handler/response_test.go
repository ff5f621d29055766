package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"paylink/internal/adapter"
	"paylink/internal/repository"
	"paylink/internal/service"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{service.ErrPaymentLinkNotFound, http.StatusNotFound},
		{repository.ErrNotFound, http.StatusNotFound},
		{adapter.ErrInvalidSignature, http.StatusUnauthorized},
		{service.ErrInvalidAmount, http.StatusBadRequest},
		{service.ErrInvalidExpiry, http.StatusBadRequest},
		{adapter.ErrMalformedPayload, http.StatusBadRequest},
		{adapter.ErrNoMerchantTransfer, http.StatusBadRequest},
		{service.ErrInvalidState, http.StatusConflict},
		{service.ErrInvalidTransition, http.StatusConflict},
		{adapter.ErrTransactionFailed, http.StatusConflict},
		{service.ErrAmountMismatch, http.StatusUnprocessableEntity},
		{service.ErrNotFinalized, http.StatusAccepted},
		{service.ErrLockContention, http.StatusServiceUnavailable},
		{service.ErrRateUnavailable, http.StatusServiceUnavailable},
		{adapter.ErrUpstream, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		wrapped := fmt.Errorf("context: %w", tc.err)
		if got := mapErrorToHTTPStatus(wrapped); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}
