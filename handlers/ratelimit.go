package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/internal/auth"
)

// RateLimit enforces a fixed-window per-user request budget backed by
// redis. It fails open: a nil client or an unreachable redis disables
// limiting with a logged warning rather than blocking chat traffic.
func RateLimit(client *redis.Client, perMinute int, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || perMinute <= 0 {
			c.Next()
			return
		}

		subject := auth.UserID(c)
		if subject == "" {
			subject = c.Param("userId")
		}
		if subject == "" {
			subject = c.ClientIP()
		}

		window := time.Now().Unix() / 60
		key := fmt.Sprintf("ratelimit:%s:%d", subject, window)

		ctx := c.Request.Context()
		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			logger.Warnf("rate limiter unavailable, failing open: %v", err)
			c.Next()
			return
		}

		if count == 1 {
			if err := client.Expire(ctx, key, time.Minute).Err(); err != nil {
				logger.Warnf("set rate limit window expiry: %v", err)
			}
		}

		if count > int64(perMinute) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}
