package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"phishguard/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed window limiter keyed by client IP. With a Redis
// client the windows are shared across API instances; otherwise they are
// kept in memory.
type RateLimiter struct {
	limit  int
	window time.Duration
	rdb    *redis.Client
	prefix string

	mu       sync.Mutex
	requests map[string]*requestInfo
	now      func() time.Time
}

type requestInfo struct {
	count     int
	expiresAt time.Time
}

// NewRateLimiter creates a limiter. rdb may be nil.
func NewRateLimiter(limit int, window time.Duration, rdb *redis.Client) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		rdb:      rdb,
		prefix:   "ratelimit:",
		requests: make(map[string]*requestInfo),
		now:      time.Now,
	}
}

// Allow counts one request for key and reports whether it is within the
// limit, plus the remaining budget and time until the window resets.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Duration) {
	if rl.rdb != nil {
		ok, remaining, reset, err := rl.allowRedis(ctx, key)
		if err == nil {
			return ok, remaining, reset
		}
		logger.WithError(err).Warn("rate limiter: redis unavailable, using local window")
	}
	return rl.allowLocal(key)
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string) (bool, int, time.Duration, error) {
	k := rl.prefix + key
	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, rl.window)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}
	count := int(incr.Val())
	reset := ttl.Val()
	if reset < 0 {
		reset = rl.window
	}
	return count <= rl.limit, max(rl.limit-count, 0), reset, nil
}

func (rl *RateLimiter) allowLocal(key string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	info, ok := rl.requests[key]
	if !ok || now.After(info.expiresAt) {
		if len(rl.requests) > 10000 {
			rl.cleanupLocked(now)
		}
		info = &requestInfo{expiresAt: now.Add(rl.window)}
		rl.requests[key] = info
	}
	info.count++
	return info.count <= rl.limit, max(rl.limit-info.count, 0), info.expiresAt.Sub(now)
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for key, info := range rl.requests {
		if now.After(info.expiresAt) {
			delete(rl.requests, key)
		}
	}
}

// Handler returns the fiber middleware.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ok, remaining, reset := rl.Allow(c.UserContext(), c.IP())
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(reset.Seconds())+1))
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return c.Next()
	}
}

// MaxBodySize limits request body size.
func MaxBodySize(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "request body too large")
		}
		return c.Next()
	}
}
