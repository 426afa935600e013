package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Allow counts one hit against key and reports whether it stays within
// limit hits per window. Counting failures (redis down) fail open:
// availability over throttling.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) bool {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		r.redis.Expire(ctx, key, window)
	}
	return count <= limit
}

// RedeemRateLimit caps redemption attempts per validator device. Bound on
// the redeem route so a wedged scanner cannot hammer the ledger.
func (r *RateLimiter) RedeemRateLimit(limit int64) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		key := fmt.Sprintf("ratelimit:redeem:%s", e.RealIP())
		if !r.Allow(e.Request.Context(), key, limit, time.Minute) {
			return apis.NewApiError(429, "Too many redemption attempts", nil)
		}
		return e.Next()
	}
}

// SessionRateLimit caps payment session creation per caller IP.
func (r *RateLimiter) SessionRateLimit(limit int64) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		key := fmt.Sprintf("ratelimit:session:%s", e.RealIP())
		if !r.Allow(e.Request.Context(), key, limit, time.Minute) {
			return apis.NewApiError(429, "Too many payment sessions. Please try again later.", nil)
		}
		return e.Next()
	}
}

// MarketRateLimit is the echo form of the same limiter, for deployments
// that front the marketplace endpoints with an echo gateway.
func (r *RateLimiter) MarketRateLimit() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &redisStore{redis: r.redis, limit: 60, window: time.Minute},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			// Rate limit by user for authenticated requests
			userID := c.Get("user_id")
			if userID != nil {
				return fmt.Sprintf("user:%s", userID), nil
			}
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(429, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		},
	})
}

// Anti-bot protection
func (r *RateLimiter) AntiBotMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userAgent := c.Request().Header.Get("User-Agent")
			if r.isSuspiciousUserAgent(userAgent) {
				return c.JSON(403, map[string]string{
					"error": "Access denied",
				})
			}

			key := fmt.Sprintf("antibot:%s", c.RealIP())
			if !r.Allow(context.Background(), key, 30, time.Minute) {
				return c.JSON(429, map[string]string{
					"error": "Too many requests",
				})
			}

			return next(c)
		}
	}
}

func (r *RateLimiter) isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}

// redisStore adapts the redis counter to echo's rate limiter store.
type redisStore struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func (s *redisStore) Allow(identifier string) (bool, error) {
	ctx := context.Background()
	key := fmt.Sprintf("ratelimit:gw:%s", identifier)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, nil
	}
	if count == 1 {
		s.redis.Expire(ctx, key, s.window)
	}
	return count <= s.limit, nil
}
