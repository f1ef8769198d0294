package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
)

func (h *Handler) listShippingMethods(c *gin.Context) {
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	methods, err := models.GetShippingMethods(c.Request.Context(), h.DB, tenantId)
	if err != nil {
		h.respondError(c, "listShippingMethods", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipping_methods": methods})
}

func (h *Handler) createShippingMethod(c *gin.Context) {
	var input models.NewShippingMethod
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	method, err := models.CreateShippingMethod(c.Request.Context(), h.DB, tenantId, &input)
	if err != nil {
		h.respondError(c, "createShippingMethod", err)
		return
	}
	c.JSON(http.StatusCreated, method)
}

func (h *Handler) updateShippingMethod(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var input models.NewShippingMethod
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	method, err := models.UpdateShippingMethod(c.Request.Context(), h.DB, tenantId, id, &input)
	if err != nil {
		h.respondError(c, "updateShippingMethod", err)
		return
	}
	c.JSON(http.StatusOK, method)
}

type toggleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (h *Handler) toggleShippingMethod(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req toggleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	method, err := models.ToggleActiveShippingMethod(c.Request.Context(), h.DB, tenantId, id, *req.IsActive)
	if err != nil {
		h.respondError(c, "toggleShippingMethod", err)
		return
	}
	c.JSON(http.StatusOK, method)
}

func (h *Handler) updateTenantSettings(c *gin.Context) {
	var input models.TenantSettingsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	settings, err := models.UpdateTenantSettings(c.Request.Context(), h.DB, tenantId, &input)
	if err != nil {
		h.respondError(c, "updateTenantSettings", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}
