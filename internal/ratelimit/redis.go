package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces limiter keys in a shared Redis.
const DefaultKeyPrefix = "users:ratelimit:"

// RedisLimiter is a fixed window counter shared by every replica.
type RedisLimiter struct {
	client    redis.Cmdable
	keyPrefix string
	requests  int64
	window    time.Duration
	now       func() time.Time
}

// NewRedisLimiter allows requests per window for each key.
func NewRedisLimiter(client redis.Cmdable, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
		requests:  int64(requests),
		window:    window,
		now:       time.Now,
	}
}

func (l *RedisLimiter) windowKey(key string) string {
	return fmt.Sprintf("%s%s:%d", l.keyPrefix, key, l.now().Truncate(l.window).Unix())
}

// Allow increments the counter of the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.windowKey(key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	return incr.Val() <= l.requests, nil
}

// Reset clears the current window of key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.windowKey(key)).Err()
}
