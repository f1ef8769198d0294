package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/middlewares"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler carries the dependencies shared by every route.
type Handler struct {
	DB            *gorm.DB
	Logger        *logrus.Logger
	Lifecycle     *workflow.OrderLifecycle
	Webhooks      *workflow.PaymentWebhookHandler
	WebhookSecret string
	// WebhookTolerance bounds the age of a signed webhook timestamp.
	WebhookTolerance time.Duration
	// CheckoutLimiter is optional; nil disables checkout rate limiting.
	CheckoutLimiter *middlewares.RateLimiter
	Now             func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// Register mounts the storefront routes on r. Global middleware (correlation ids, cors,
// auth, recovery) is installed by the caller.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/webhooks/payment", h.paymentWebhook)

	v1 := r.Group("/v1", middlewares.RequireIdentity(), middlewares.TenantSettingsMiddleware(h.DB))
	v1.POST("/quote", h.quote)
	if h.CheckoutLimiter != nil {
		v1.POST("/checkout", h.CheckoutLimiter.RateLimitMiddleware, h.checkout)
	} else {
		v1.POST("/checkout", h.checkout)
	}
	v1.GET("/variants/availability", h.availability)

	orders := v1.Group("/orders")
	orders.GET("/:id", h.getOrder)
	orders.GET("/:id/history", h.orderHistory)
	orders.POST("/:id/cancel", h.cancelOrder)
	orders.POST("/:id/extend", h.extendOrder)
	orders.POST("/:id/fulfill", middlewares.RequireStaff(), h.fulfillOrder)
	orders.POST("/:id/ship", middlewares.RequireStaff(), h.shipOrder)
	orders.GET("/:id/events", middlewares.RequireStaff(), h.orderEvents)
	orders.POST("/:id/refund", middlewares.RequireRoles(models.UserRoleAdmin, models.UserRoleOwner), h.refundOrder)

	staff := v1.Group("", middlewares.RequireStaff())
	staff.POST("/variants/:id/adjust", h.adjustVariant)
	staff.GET("/shipping-methods", h.listShippingMethods)

	admin := v1.Group("", middlewares.RequireRoles(models.UserRoleAdmin, models.UserRoleOwner))
	admin.POST("/shipping-methods", h.createShippingMethod)
	admin.PUT("/shipping-methods/:id", h.updateShippingMethod)
	admin.POST("/shipping-methods/:id/active", h.toggleShippingMethod)
	admin.PUT("/tenant/settings", h.updateTenantSettings)
	admin.GET("/ops/stock-reconcile", h.reconcileStock)
	admin.POST("/ops/outbox/replay", h.replayOrderEvent)
}

// NewRouter builds a bare engine with the storefront routes. Used by tests and by
// callers that do not need cors or the error logger.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(gin.Recovery())
	h.Register(r)
	r.NoRoute(CustomNotFoundHandler)
	return r
}

func CustomNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func (h *Handler) logger() *logrus.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return config.GetLogger()
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, models.ErrInvalidInput
	}
	return n, nil
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
