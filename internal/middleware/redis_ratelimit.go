package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "otpauth:rate_limit:"

// RedisRateLimiter is a fixed window counter shared by every instance
type RedisRateLimiter struct {
	client  redis.UniversalClient
	prefix  string
	window  time.Duration
	maxReqs int
}

// NewRedisRateLimiter creates a Redis backed limiter. name separates the
// counters of limiters sharing one Redis.
func NewRedisRateLimiter(client redis.UniversalClient, name string, window time.Duration, maxReqs int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:  client,
		prefix:  rateLimitPrefix + name + ":",
		window:  window,
		maxReqs: maxReqs,
	}
}

// NewRedisClient parses a redis:// URL and pings the server
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Allow increments the counter for key and sets its expiry on first use.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(l.maxReqs), nil
}
