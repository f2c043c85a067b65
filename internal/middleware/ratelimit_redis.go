package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces rate limit counters in a shared Redis.
const redisKeyPrefix = "live:ratelimit:"

// RedisRateLimitStore implements RateLimitStore with a fixed window counter
// in Redis, so every instance shares one budget per key. Redis errors fail
// open: the request is allowed and the error is counted.
type RedisRateLimitStore struct {
	client  redis.UniversalClient
	metrics *Metrics
}

// NewRedisRateLimitStore creates a Redis-backed store. metrics may be nil.
func NewRedisRateLimitStore(client redis.UniversalClient, metrics *Metrics) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, metrics: metrics}
}

// Allow increments the key's counter for the current window. The window
// starts with the first hit and expires with the key.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	redisKey := redisKeyPrefix + key

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return s.failOpen(ctx, key, err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, redisKey, config.WindowDuration).Err(); err != nil {
			return s.failOpen(ctx, key, err)
		}
	}
	if count <= int64(config.RequestsPerWindow) {
		return true, 0
	}

	ttl, err := s.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return s.failOpen(ctx, key, err)
	}
	if ttl < 0 {
		// A counter without expiry would block the key forever.
		_ = s.client.PExpire(ctx, redisKey, config.WindowDuration).Err()
	}
	return false, retryAfterSeconds(ttl, config.WindowDuration)
}

func (s *RedisRateLimitStore) failOpen(ctx context.Context, key string, err error) (bool, int) {
	s.metrics.IncRateLimitRedisErrors()
	slog.WarnContext(ctx, "rate limit store unavailable, allowing request",
		"error", err,
		"key", key,
	)
	return true, 0
}

// retryAfterSeconds rounds the remaining window up to whole seconds.
func retryAfterSeconds(ttl, window time.Duration) int {
	if ttl <= 0 {
		ttl = window
	}
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return secs
}
