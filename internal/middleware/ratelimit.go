package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wolftax/oferta_tools/internal/service"
	"github.com/wolftax/oferta_tools/pkg/config"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type rateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	max      float64
	interval time.Duration
}

func newRateLimiter(max int, interval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		buckets:  make(map[string]*bucket),
		max:      float64(max),
		interval: interval,
	}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.max, lastSeen: now}
		rl.buckets[key] = b
	}

	refill := now.Sub(b.lastSeen).Seconds() * rl.max / rl.interval.Seconds()
	b.tokens += refill
	if b.tokens > rl.max {
		b.tokens = rl.max
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-2 * rl.interval)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit throttles requests per client IP with a token bucket. Disabled
// through configuration it becomes a pass-through.
func RateLimit() fiber.Handler {
	if !config.GetBool("rate_limit.enabled") {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	max := config.GetInt("rate_limit.max_requests")
	if max <= 0 {
		max = 120
	}
	duration := config.GetInt("rate_limit.duration")
	if duration <= 0 {
		duration = 60
	}
	rl := newRateLimiter(max, time.Duration(duration)*time.Second)

	return func(c *fiber.Ctx) error {
		if !rl.allow(c.IP()) {
			return c.Status(fiber.StatusTooManyRequests).JSON(&service.Response{
				Code:    fiber.StatusTooManyRequests,
				Message: "too many requests",
			})
		}
		return c.Next()
	}
}
