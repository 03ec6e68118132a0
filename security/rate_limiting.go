package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter in Redis, keyed by user or client IP.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

func NewRateLimiter(redisClient *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
	}
}

// Allow counts one request for identifier and reports whether it is within the limit.
func (r *RateLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := r.prefix + identifier

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit %s: %w", key, err)
		}
	}
	return count <= r.limit, nil
}

// Middleware limits requests of authenticated users by id and anonymous ones by IP.
// Redis failures let the request through.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		identifier := "ip:" + e.RealIP()
		if e.Auth != nil {
			identifier = "user:" + e.Auth.Id
		}

		ok, err := r.Allow(e.Request.Context(), identifier)
		if err != nil {
			slog.Warn("Rate limiter unavailable", "error", err)
			return e.Next()
		}
		if !ok {
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}
		return e.Next()
	}
}
