package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/middlewares"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/mmdatafocus/storefront_backend/workflow"
	"github.com/sirupsen/logrus"
)

const IdempotencyHeader = "Idempotency-Key"

func (h *Handler) quote(c *gin.Context) {
	var input models.QuoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	settings := middlewares.TenantSettingsFor(c.Request.Context())
	quote, err := models.ComputeQuote(c.Request.Context(), h.DB, settings, input)
	if err != nil {
		h.respondError(c, "quote", err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) checkout(c *gin.Context) {
	var input models.QuoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if len(key) > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key is too long"})
		return
	}

	ctx := c.Request.Context()
	customerId, _ := utils.GetUserIdFromContext(ctx)
	result, err := h.Lifecycle.Checkout(ctx, middlewares.TenantSettingsFor(ctx), workflow.CheckoutRequest{
		QuoteInput:     input,
		CustomerId:     customerId,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondError(c, "checkout", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *Handler) availability(c *gin.Context) {
	raw := utils.SplitAndTrim(c.Query("ids"))
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids is required"})
		return
	}
	if len(raw) > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids"})
		return
	}
	ids := make([]int, 0, len(raw))
	for _, s := range raw {
		id, err := parsePositiveInt(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id " + s})
			return
		}
		ids = append(ids, id)
	}
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	result, err := models.GetAvailability(c.Request.Context(), h.DB, tenantId, utils.UniqueSlice(ids))
	if err != nil {
		h.respondError(c, "availability", err)
		return
	}
	out := make([]models.Availability, 0, len(result))
	for _, id := range utils.UniqueSlice(ids) {
		if a, ok := result[id]; ok {
			out = append(out, a)
		}
	}
	c.JSON(http.StatusOK, gin.H{"variants": out})
}

type adjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"max=255"`
}

func (h *Handler) adjustVariant(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	variant, err := models.AdjustVariantStock(ctx, h.DB, tenantId, id, req.Delta, h.now())
	if err != nil {
		h.respondError(c, "adjustVariant", err)
		return
	}
	actor := workflow.ActorFromContext(ctx)
	h.logger().WithFields(logrus.Fields{
		"field":      "StockAdjustment",
		"tenant_id":  tenantId,
		"variant_id": id,
		"delta":      req.Delta,
		"reason":     req.Reason,
		"user_id":    actor.UserId,
	}).Info("stock adjusted")
	c.JSON(http.StatusOK, variant)
}
