package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter implements a fixed-window limiter in redis so every
// replica shares the same budget
type DistributedRateLimiter struct {
	redis  redis.UniversalClient
	config RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(client redis.UniversalClient, config RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  client,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow increments the window counter for key
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis error: %w", err)
	}
	// The first request of a window starts its expiry
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, 0, fmt.Errorf("redis error: %w", err)
		}
	}

	limit := rl.config.RequestsPerWindow + rl.config.BurstSize
	if int(count) > limit {
		return false, 0, nil
	}
	return true, limit - int(count), nil
}

// Limit returns the configured requests per window
func (rl *DistributedRateLimiter) Limit() int { return rl.config.RequestsPerWindow }

// Window returns the window length
func (rl *DistributedRateLimiter) Window() time.Duration { return rl.config.WindowDuration }

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
