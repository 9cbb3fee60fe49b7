package middleware

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/postpilot/postpilot/internal/ratelimit"
)

// RateLimit gates a route on the shared per-tenant quota. The tenant id
// comes from the :id route parameter.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("id")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Tenant id required"})
			c.Abort()
			return
		}

		info, err := limiter.Acquire(c.Request.Context(), tenantID)
		if err != nil {
			var limited *ratelimit.LimitExceededError
			if errors.As(err, &limited) {
				c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(limited.RetryAfter.Seconds()))))
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":       "Rate limit exceeded",
					"retry_after": limited.RetryAfter.Seconds(),
					"reset_at":    info.ResetAt,
				})
				c.Abort()
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limiter unavailable"})
			c.Abort()
			return
		}

		c.Set("rate_limit_remaining", info.RemainingTokens)
		c.Next()
	}
}
