package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
)

// respondError maps the domain error taxonomy onto HTTP statuses. Anything it does not
// recognise is logged and reported as a 500 without leaking the cause.
func (h *Handler) respondError(c *gin.Context, funcName string, err error) {
	var (
		validationErrs validator.ValidationErrors
		stockErr       *models.InsufficientStockError
		transitionErr  *models.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validationErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": utils.ProcessValidationErrors(err)})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "insufficient_stock",
			"variant_id": stockErr.VariantId,
			"sku":        stockErr.Sku,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "invalid_transition",
			"order_id": transitionErr.OrderId,
			"status":   transitionErr.From,
			"event":    transitionErr.Event,
		})
	case errors.Is(err, models.ErrCheckoutPaused):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checkout_paused"})
	case models.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case models.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrEmptyCart),
		errors.Is(err, models.ErrNoShippingMethod),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrPaymentIntentMissing):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unprocessable", "message": err.Error()})
	case errors.Is(err, models.ErrProcessor):
		config.LogError(h.logger(), "API", funcName, "payment processor", nil, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment_processor_unavailable"})
	case errors.Is(err, models.ErrTenantRequired), errors.Is(err, utils.ErrorInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		config.LogError(h.logger(), "API", funcName, "unhandled error", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
}
