package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/synesthesie/imagemeta/internal/clock"
	"github.com/synesthesie/imagemeta/internal/config"
)

// UploadRateLimit caps uploads per caller and UTC day at
// cfg.UploadRateLimitPerDay. It must run after Auth; anonymous requests are
// left to RequireAuth.
func UploadRateLimit(redisClient redis.UniversalClient, cfg *config.Config, clk clock.Clock, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID := CallerID(c)
		if redisClient == nil || cfg.UploadRateLimitPerDay <= 0 || callerID == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		// Rate limit key: upload_limit:{caller}:{date}, reset at UTC midnight
		now := clk.Now().UTC()
		key := fmt.Sprintf("upload_limit:%s:%s", callerID, now.Format("2006-01-02"))

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			log.Warn().Err(err).Msg("upload rate limiter unavailable")
			c.Next()
			return
		}
		if count == 1 {
			midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
			if err := redisClient.Expire(ctx, key, midnight.Sub(now)).Err(); err != nil {
				log.Warn().Err(err).Msg("upload rate limiter failed to set expiry")
			}
		}

		if count > int64(cfg.UploadRateLimitPerDay) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "upload_rate_limit_exceeded",
				"message":             "Too many uploads today. Please try again tomorrow.",
				"uploads_today":       count - 1,
				"max_uploads_per_day": cfg.UploadRateLimitPerDay,
			})
			return
		}

		c.Next()
	}
}
