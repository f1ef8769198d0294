package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/config"
	"github.com/mmdatafocus/storefront_backend/utils"
)

// RateLimiter is a fixed-window counter kept in redis. With no redis connection every
// request is admitted.
type RateLimiter struct {
	name   string
	limit  int64
	window time.Duration
}

func NewRateLimiter(name string, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		name:   name,
		limit:  limit,
		window: window,
	}
}

// key scopes the counter to the caller when a token is present, else to the client IP.
func (rl *RateLimiter) key(c *gin.Context) string {
	ctx := c.Request.Context()
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	if userId, ok := utils.GetUserIdFromContext(ctx); ok && userId > 0 {
		return fmt.Sprintf("ratelimit:%s:%s:user:%d", rl.name, tenantId, userId)
	}
	return fmt.Sprintf("ratelimit:%s:%s:ip:%s", rl.name, tenantId, c.ClientIP())
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	if rl.limit <= 0 {
		c.Next()
		return
	}
	count, err := config.IncrRedisWindow(c.Request.Context(), rl.key(c), rl.window)
	if err != nil {
		// Redis trouble must not take checkout down with it.
		config.LogError(config.GetLogger(), "RateLimiter", "RateLimitMiddleware", rl.name, nil, err)
		c.Next()
		return
	}
	if count > rl.limit {
		c.Header("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}
