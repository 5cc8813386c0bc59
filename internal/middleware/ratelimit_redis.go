package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts requests per client in Redis with a fixed window,
// using atomic INCR plus a TTL on first touch. Counters are shared across
// server instances, which the in-process bucket cannot offer. Fails open on
// Redis errors so a cache outage does not take the API down with it.
type RedisRateLimiter struct {
	client *redis.Client
	rate   int
	window time.Duration
}

// NewRedisRateLimiter creates a Redis-backed rate limiter.
func NewRedisRateLimiter(client *redis.Client, rate int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		rate:   rate,
		window: window,
	}
}

// Allow checks if a request from the given key should be allowed.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true
	}

	if count == 1 {
		// First hit in this window; start the clock.
		if err := rl.client.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			return true
		}
	}

	return count <= int64(rl.rate)
}
