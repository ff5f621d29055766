package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"paylink/internal/repository"
	"paylink/internal/service"
)

const defaultSweepLimit = 500

// AdminHandler exposes maintenance operations for operators.
type AdminHandler struct {
	syncQueue   *service.SyncQueue
	ledger      *service.LedgerService
	links       *service.LinkService
	consistency *service.ConsistencyService
	locks       repository.LockInspector
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	syncQueue *service.SyncQueue,
	ledger *service.LedgerService,
	links *service.LinkService,
	consistency *service.ConsistencyService,
	locks repository.LockInspector,
) *AdminHandler {
	return &AdminHandler{
		syncQueue:   syncQueue,
		ledger:      ledger,
		links:       links,
		consistency: consistency,
		locks:       locks,
	}
}

// ResetFailedRequest is the HTTP request body for resetting failed jobs.
type ResetFailedRequest struct {
	OrganizationID string `json:"organization_id"`
}

// CountResponse reports how many records an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// RunSync handles POST /v1/admin/sync/run
func (h *AdminHandler) RunSync(c *gin.Context) {
	summary, err := h.syncQueue.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, summary)
}

// ResetFailed handles POST /v1/admin/sync/reset-failed
func (h *AdminHandler) ResetFailed(c *gin.Context) {
	var req ResetFailedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	n, err := h.syncQueue.ResetFailed(c.Request.Context(), req.OrganizationID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CountResponse{Count: n})
}

// Backfill handles POST /v1/admin/sync/backfill
func (h *AdminHandler) Backfill(c *gin.Context) {
	n, err := h.syncQueue.Backfill(c.Request.Context(), limitParam(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CountResponse{Count: n})
}

// Reconcile handles POST /v1/admin/ledger/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	n, err := h.ledger.ReconcileMissing(c.Request.Context(), limitParam(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CountResponse{Count: n})
}

// Balance handles GET /v1/admin/ledger/:id/balance
func (h *AdminHandler) Balance(c *gin.Context) {
	report, err := h.ledger.ValidateBalance(c.Request.Context(), c.Param("id"))
	if err != nil && !errors.Is(err, service.ErrLedgerImbalance) {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, report)
}

// ExpireLinks handles POST /v1/admin/links/expire
func (h *AdminHandler) ExpireLinks(c *gin.Context) {
	n, err := h.links.ExpireDue(c.Request.Context(), limitParam(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CountResponse{Count: n})
}

// Consistency handles GET /v1/admin/consistency
func (h *AdminHandler) Consistency(c *gin.Context) {
	report, err := h.consistency.Report(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"healthy": report.Healthy(),
		"report":  report,
	})
}

// GetLock handles GET /v1/admin/locks/:id
func (h *AdminHandler) GetLock(c *gin.Context) {
	lock, err := h.locks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if lock == nil {
		respondJSON(c, http.StatusOK, gin.H{"payment_link_id": c.Param("id"), "held": false})
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"payment_link_id": lock.PaymentLinkID,
		"held":            true,
		"holder":          lock.Holder,
		"acquired_at":     lock.AcquiredAt,
		"expires_at":      lock.ExpiresAt,
	})
}

func limitParam(c *gin.Context) int {
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		return n
	}
	return defaultSweepLimit
}
