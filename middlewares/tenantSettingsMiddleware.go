package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/models"
	"github.com/mmdatafocus/storefront_backend/utils"
	"gorm.io/gorm"
)

type ctxKey string

const (
	tenantSettingsKey = ctxKey("tenantSettings")
)

// TenantSettingsMiddleware loads the caller's tenant settings snapshot once per request.
// Handlers read it with TenantSettingsFor and never reload it mid-request.
func TenantSettingsMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context())
		if !ok || tenantId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		settings, err := models.GetTenantSettings(c.Request.Context(), db, tenantId)
		if err != nil {
			if models.IsNotFound(err) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "store not found"})
				return
			}
			config.LogError(config.GetLogger(), "TenantSettingsMiddleware", "GetTenantSettings", "load settings", tenantId, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), tenantSettingsKey, settings))
		c.Next()
	}
}

func TenantSettingsFor(ctx context.Context) *models.TenantSettings {
	settings, _ := ctx.Value(tenantSettingsKey).(*models.TenantSettings)
	return settings
}

// WithTenantSettings is used by handlers and tests that build a context by hand.
func WithTenantSettings(ctx context.Context, settings *models.TenantSettings) context.Context {
	return context.WithValue(ctx, tenantSettingsKey, settings)
}
