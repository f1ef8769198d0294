package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
)

// reconcileStock reports ledger drift for the caller's tenant. Repair is left to the
// stock-reconcile binary.
func (h *Handler) reconcileStock(c *gin.Context) {
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	drifts, err := models.ReconcileStockLedger(c.Request.Context(), h.DB, tenantId, false, h.now())
	if err != nil {
		h.respondError(c, "reconcileStock", err)
		return
	}
	if drifts == nil {
		drifts = []models.LedgerDrift{}
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantId, "drifts": drifts})
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id" binding:"required,gt=0"`
}

func (h *Handler) replayOrderEvent(c *gin.Context) {
	var req outboxReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	now := h.now()
	rec, err := models.ReplayOrderEvent(c.Request.Context(), h.DB, tenantId, req.RecordId, now)
	if err != nil {
		h.respondError(c, "replayOrderEvent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":       tenantId,
		"record_id":       rec.ID,
		"publish_status":  rec.PublishStatus,
		"next_attempt_at": now.Format(time.RFC3339Nano),
	})
}

func (h *Handler) orderEvents(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	if _, err := models.GetOrder(ctx, h.DB, tenantId, id); err != nil {
		h.respondError(c, "orderEvents", err)
		return
	}
	events, err := models.GetOrderEventStatuses(ctx, h.DB, tenantId, id)
	if err != nil {
		h.respondError(c, "orderEvents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "events": events})
}
