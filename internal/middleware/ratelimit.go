package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"aiconsole/internal/config"
)

// RateLimitConfig holds per-IP request limits
type RateLimitConfig struct {
	// All /api requests
	APIMax        int
	APIExpiration time.Duration

	// Asset writes (create, update, delete, avatar uploads)
	WriteMax        int
	WriteExpiration time.Duration

	// WebSocket connection attempts
	WebSocketMax        int
	WebSocketExpiration time.Duration
}

// LoadRateLimitConfig derives limits from the application config. Development
// mode relaxes them.
func LoadRateLimitConfig(cfg *config.Config) *RateLimitConfig {
	rl := &RateLimitConfig{
		APIMax:              cfg.RateLimitAPI,
		APIExpiration:       time.Minute,
		WriteMax:            cfg.RateLimitWrites,
		WriteExpiration:     time.Minute,
		WebSocketMax:        cfg.RateLimitWebSocket,
		WebSocketExpiration: time.Minute,
	}

	if !cfg.IsProduction() {
		rl.APIMax *= 5
		rl.WriteMax *= 5
		rl.WebSocketMax *= 5
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}
	return rl
}

// limit builds an IP-keyed limiter; max <= 0 disables it.
func limit(prefix string, max int, expiration time.Duration, message string) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return prefix + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] %s limit reached for IP: %s on %s", prefix, c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       message,
				"retry_after": int(expiration.Seconds()),
			})
		},
	})
}

// GlobalAPIRateLimiter limits all API requests per IP
func GlobalAPIRateLimiter(rl *RateLimitConfig) fiber.Handler {
	return limit("api", rl.APIMax, rl.APIExpiration, "Too many requests. Please slow down.")
}

// WriteRateLimiter limits asset writes per IP. Reads pass through.
func WriteRateLimiter(rl *RateLimitConfig) fiber.Handler {
	writes := limit("write", rl.WriteMax, rl.WriteExpiration, "Too many changes. Please wait before trying again.")
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		return writes(c)
	}
}

// WebSocketRateLimiter limits WebSocket connection attempts per IP
func WebSocketRateLimiter(rl *RateLimitConfig) fiber.Handler {
	return limit("ws", rl.WebSocketMax, rl.WebSocketExpiration, "Too many connection attempts. Please wait before reconnecting.")
}
