package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"paylink/internal/adapter"
	"paylink/internal/repository"
	"paylink/internal/service"
)

// lockRetryAfter is the Retry-After hint sent on lock contention.
const lockRetryAfter = 2

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var cerr *service.ConfirmationError
	if errors.As(err, &cerr) {
		resp.Kind = string(cerr.Kind)
		resp.CurrentStatus = string(cerr.CurrentStatus)
		resp.Retryable = cerr.Retryable
	}

	if code == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(lockRetryAfter))
	}

	_ = c.Error(err)
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository/adapter errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, service.ErrPaymentLinkNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Authentication of provider callbacks
	case errors.Is(err, adapter.ErrInvalidSignature):
		return http.StatusUnauthorized

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidPaymentLinkID),
		errors.Is(err, service.ErrInvalidOrganization),
		errors.Is(err, service.ErrInvalidProvider),
		errors.Is(err, service.ErrInvalidExternalReference),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidCurrency),
		errors.Is(err, service.ErrInvalidExpiry),
		errors.Is(err, adapter.ErrMalformedPayload),
		errors.Is(err, adapter.ErrMissingPaymentLink),
		errors.Is(err, adapter.ErrNoMerchantTransfer):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, adapter.ErrTransactionFailed):
		return http.StatusConflict

	// Received amount does not satisfy the link
	case errors.Is(err, service.ErrAmountMismatch):
		return http.StatusUnprocessableEntity

	// Not final yet: the provider should resubmit later
	case errors.Is(err, service.ErrNotFinalized):
		return http.StatusAccepted

	// Retryable contention and upstream outages
	case errors.Is(err, service.ErrLockContention),
		errors.Is(err, service.ErrRateUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, adapter.ErrUpstream):
		return http.StatusBadGateway

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
