package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/mmdatafocus/storefront_backend/workflow"
)

// loadOwnOrder fetches an order the caller may act on. Customers only see their own
// orders; anything else is reported as not found.
func (h *Handler) loadOwnOrder(ctx context.Context, orderId int) (*models.Order, error) {
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	order, err := models.GetOrder(ctx, h.DB, tenantId, orderId)
	if err != nil {
		return nil, err
	}
	role, _ := utils.GetRoleFromContext(ctx)
	if models.UserRole(role).IsStaff() {
		return order, nil
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	if order.CustomerId != userId {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	order, err := h.loadOwnOrder(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "getOrder", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) orderHistory(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	order, err := h.loadOwnOrder(ctx, id)
	if err != nil {
		h.respondError(c, "orderHistory", err)
		return
	}
	history, err := models.GetOrderHistory(ctx, h.DB, order.TenantId, order.ID)
	if err != nil {
		h.respondError(c, "orderHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "history": history})
}

type cancelOrderRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	ctx := c.Request.Context()
	order, err := h.loadOwnOrder(ctx, id)
	if err != nil {
		h.respondError(c, "cancelOrder", err)
		return
	}
	order, err = h.Lifecycle.Cancel(ctx, order.TenantId, order.ID, req.Reason)
	if err != nil {
		h.respondError(c, "cancelOrder", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) extendOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	order, err := h.loadOwnOrder(ctx, id)
	if err != nil {
		h.respondError(c, "extendOrder", err)
		return
	}
	expiresAt, err := h.Lifecycle.ExtendReservations(ctx, order.TenantId, order.ID)
	if err != nil {
		h.respondError(c, "extendOrder", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "expires_at": expiresAt})
}

func (h *Handler) fulfillOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	order, err := h.Lifecycle.Fulfill(ctx, tenantId, id)
	if err != nil {
		h.respondError(c, "fulfillOrder", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) shipOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var input workflow.ShipmentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	order, err := h.Lifecycle.Ship(ctx, tenantId, id, input)
	if err != nil {
		h.respondError(c, "shipOrder", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) refundOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	order, err := h.Lifecycle.Refund(ctx, tenantId, id)
	if err != nil {
		h.respondError(c, "refundOrder", err)
		return
	}
	c.JSON(http.StatusOK, order)
}
