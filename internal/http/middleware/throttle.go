package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/ratelimit"
)

const clientKeyKey = "abuseClientKey"

// LoginThrottle gates an endpoint behind the count-based abuse counter. The
// counter is incremented before the handler runs so a downstream failure
// still consumed an attempt, and a limited client gets the counter expiry
// back for retry messaging. The counter itself fails open when its store is
// down.
func LoginThrottle(counter ratelimit.Counter, keyFn func(ip string) string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := keyFn(c.ClientIP())

		if counter.IsLimited(ctx, key, limit) {
			body := gin.H{
				"success": false,
				"error":   "Too many attempts. Please try again later.",
			}
			if resetAt := counter.ResetAt(ctx, key); resetAt != nil {
				body["resetAt"] = resetAt.UTC().Format(time.RFC3339)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
			return
		}

		counter.Increment(ctx, key, window)
		c.Set(clientKeyKey, key)
		c.Next()
	}
}

// GetClientKey returns the abuse-counter key the request was throttled
// under, so a successful login can clear it.
func GetClientKey(c *gin.Context) string {
	value, ok := c.Get(clientKeyKey)
	if !ok {
		return ""
	}
	key, _ := value.(string)
	return key
}
