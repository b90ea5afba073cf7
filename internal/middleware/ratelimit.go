package middleware

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds inbound rate limiting settings
type RateLimitConfig struct {
	// Advisory endpoint limits (per IP) - each miss can cost an upstream call
	AdvisoryMax        int
	AdvisoryExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// 60/min = 1 req/sec average; cache hits make this generous
		AdvisoryMax:        60,
		AdvisoryExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_ADVISORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.AdvisoryMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.AdvisoryMax = 1000
	}

	return config
}

// AdvisoryRateLimiter creates a per-IP rate limiter for the advisory
// endpoint, the only route that can trigger upstream spend.
func AdvisoryRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.AdvisoryMax,
		Expiration: config.AdvisoryExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "advisory:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			slog.Warn("advisory rate limit reached", "ip", c.IP(), "path", c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.AdvisoryExpiration.Seconds()),
			})
		},
	})
}
