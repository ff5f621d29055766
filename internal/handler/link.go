package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"paylink/internal/domain"
	"paylink/internal/middleware"
	"paylink/internal/service"
)

// LinkHandler handles HTTP requests for payment links.
type LinkHandler struct {
	linkService   *service.LinkService
	ledgerService *service.LedgerService
}

// NewLinkHandler creates a new LinkHandler.
func NewLinkHandler(linkService *service.LinkService, ledgerService *service.LedgerService) *LinkHandler {
	return &LinkHandler{
		linkService:   linkService,
		ledgerService: ledgerService,
	}
}

// CreateLinkRequest is the HTTP request body for creating a payment link.
type CreateLinkRequest struct {
	OrganizationID string          `json:"organization_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	ExpiresAt      *time.Time      `json:"expires_at"`
	Open           bool            `json:"open"`
	Assets         []string        `json:"assets"`
}

// LinkResponse is the HTTP response for payment link operations.
type LinkResponse struct {
	ID             string          `json:"id"`
	ShortCode      string          `json:"short_code"`
	OrganizationID string          `json:"organization_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EventResponse is one audit trail entry.
type EventResponse struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	Provider          string            `json:"provider,omitempty"`
	ExternalReference string            `json:"external_reference,omitempty"`
	Amount            *decimal.Decimal  `json:"amount,omitempty"`
	Currency          string            `json:"currency,omitempty"`
	CorrelationID     string            `json:"correlation_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// EntryResponse is one ledger leg.
type EntryResponse struct {
	ID          string          `json:"id"`
	AccountCode string          `json:"account_code"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LedgerResponse is the ledger view of one link.
type LedgerResponse struct {
	PaymentLinkID string          `json:"payment_link_id"`
	Entries       []EntryResponse `json:"entries"`
	Debits        decimal.Decimal `json:"debits"`
	Credits       decimal.Decimal `json:"credits"`
	Balanced      bool            `json:"balanced"`
}

// CreateLink handles POST /v1/links
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.OrganizationID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "organization_id is required"})
		return
	}

	createReq := service.CreateLinkRequest{
		OrganizationID: req.OrganizationID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Open:           req.Open,
		Assets:         req.Assets,
		CorrelationID:  middleware.CorrelationID(c),
	}
	if req.ExpiresAt != nil {
		createReq.ExpiresAt = *req.ExpiresAt
	}

	link, err := h.linkService.CreateLink(c.Request.Context(), createReq)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Location", "/v1/links/"+link.ID)
	respondJSON(c, http.StatusCreated, toLinkResponse(link))
}

// GetLink handles GET /v1/links/:id
func (h *LinkHandler) GetLink(c *gin.Context) {
	link, err := h.linkService.GetLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toLinkResponse(link))
}

// OpenLink handles POST /v1/links/:id/open
func (h *LinkHandler) OpenLink(c *gin.Context) {
	link, err := h.linkService.OpenLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toLinkResponse(link))
}

// CancelLink handles POST /v1/links/:id/cancel
func (h *LinkHandler) CancelLink(c *gin.Context) {
	link, err := h.linkService.CancelLink(c.Request.Context(), c.Param("id"), middleware.CorrelationID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toLinkResponse(link))
}

// ListEvents handles GET /v1/links/:id/events
func (h *LinkHandler) ListEvents(c *gin.Context) {
	events, err := h.linkService.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		item := EventResponse{
			ID:                e.ID,
			Type:              string(e.Type),
			Provider:          string(e.Provider),
			ExternalReference: e.ExternalReference,
			Currency:          e.Currency,
			CorrelationID:     e.CorrelationID,
			Metadata:          e.Metadata,
			CreatedAt:         e.CreatedAt,
		}
		if e.Currency != "" {
			amount := e.Amount
			item.Amount = &amount
		}
		resp = append(resp, item)
	}

	respondJSON(c, http.StatusOK, resp)
}

// GetLedger handles GET /v1/links/:id/ledger
func (h *LinkHandler) GetLedger(c *gin.Context) {
	ctx := c.Request.Context()
	linkID := c.Param("id")

	if _, err := h.linkService.GetLink(ctx, linkID); err != nil {
		respondError(c, err)
		return
	}

	entries, err := h.ledgerService.ListEntries(ctx, linkID)
	if err != nil {
		respondError(c, err)
		return
	}

	balance, err := h.ledgerService.ValidateBalance(ctx, linkID)
	if err != nil && !errors.Is(err, service.ErrLedgerImbalance) {
		respondError(c, err)
		return
	}

	resp := LedgerResponse{
		PaymentLinkID: linkID,
		Entries:       make([]EntryResponse, 0, len(entries)),
		Debits:        balance.Debits,
		Credits:       balance.Credits,
		Balanced:      balance.Balanced,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, EntryResponse{
			ID:          e.ID,
			AccountCode: e.AccountCode,
			Type:        string(e.Type),
			Amount:      e.Amount,
			Currency:    e.Currency,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}

	respondJSON(c, http.StatusOK, resp)
}

func toLinkResponse(link *domain.PaymentLink) LinkResponse {
	resp := LinkResponse{
		ID:             link.ID,
		ShortCode:      link.ShortCode,
		OrganizationID: link.OrganizationID,
		Amount:         link.Amount,
		Currency:       link.Currency,
		Status:         string(link.Status),
		CreatedAt:      link.CreatedAt,
		UpdatedAt:      link.UpdatedAt,
	}
	if !link.ExpiresAt.IsZero() {
		expiresAt := link.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}
