package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/synesthesie/imagemeta/internal/config"
)

// RateLimiter allows cfg.RateLimitRequests requests per caller and
// cfg.RateLimitDuration window. Callers are identified by id when
// authenticated and by IP otherwise. Redis failures let the request pass.
func RateLimiter(redisClient redis.UniversalClient, cfg *config.Config, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.RateLimitEnabled || redisClient == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		subject := "ip:" + c.ClientIP()
		if id := CallerID(c); id != "" {
			subject = "user:" + id
		}
		key := fmt.Sprintf("rate_limit:%s", subject)

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if count == 1 {
			if err := redisClient.Expire(ctx, key, cfg.RateLimitDuration).Err(); err != nil {
				log.Warn().Err(err).Msg("rate limiter failed to set expiry")
			}
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitRequests))
		if count > int64(cfg.RateLimitRequests) {
			ttl, _ := redisClient.TTL(ctx, key).Result()
			if ttl < 0 {
				ttl = cfg.RateLimitDuration
			}
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": ttl.Seconds(),
			})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(int64(cfg.RateLimitRequests)-count, 10))

		c.Next()
	}
}
