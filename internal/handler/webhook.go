package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"paylink/internal/adapter"
	"paylink/internal/middleware"
)

// maxWebhookBody bounds provider payloads.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider payment signals.
type WebhookHandler struct {
	stripe *adapter.StripeAdapter
	hedera *adapter.HederaAdapter
	wise   *adapter.WiseAdapter
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(stripe *adapter.StripeAdapter, hedera *adapter.HederaAdapter, wise *adapter.WiseAdapter) *WebhookHandler {
	return &WebhookHandler{
		stripe: stripe,
		hedera: hedera,
		wise:   wise,
	}
}

// HederaTransactionRequest is the HTTP request body for submitting an
// on-chain payment.
type HederaTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
}

// Stripe handles POST /v1/webhooks/stripe
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.stripe.HandleWebhook(c.Request.Context(), payload, c.GetHeader(adapter.StripeSignatureHeader), middleware.CorrelationID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// Wise handles POST /v1/webhooks/wise
func (h *WebhookHandler) Wise(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.wise.HandleNotification(c.Request.Context(), payload, middleware.CorrelationID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// HederaTransaction handles POST /v1/links/:id/hedera/transactions
func (h *WebhookHandler) HederaTransaction(c *gin.Context) {
	var req HederaTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.TransactionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "transaction_id is required"})
		return
	}

	result, err := h.hedera.ConfirmTransaction(c.Request.Context(), c.Param("id"), req.TransactionID, middleware.CorrelationID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}
