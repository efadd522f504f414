package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "rl:submit:"

// RedisLimiterConfig bundles configuration for the shared limiter.
type RedisLimiterConfig struct {
	Client   *redis.Client
	Cooldown time.Duration
	Logger   *zap.Logger
}

// RedisLimiter stores the cooldown window in Redis so admission control holds
// across service instances. The window is a key with NX semantics and a TTL
// equal to the cooldown: setting the key is the atomic check-and-record.
//
// The limiter fails open: if Redis is unreachable the attempt is admitted and
// a warning is logged, because refusing every submission during a store outage
// is worse than briefly losing throttling.
type RedisLimiter struct {
	client   *redis.Client
	cooldown time.Duration
	logger   *zap.Logger
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(cfg RedisLimiterConfig) (*RedisLimiter, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("ratelimit: redis client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client:   cfg.Client,
		cooldown: cfg.Cooldown,
		logger:   logger,
	}, nil
}

// Admit attempts to claim the cooldown key for identity. A denied attempt does
// not refresh the key, so the window is measured from the last accepted
// attempt only.
func (l *RedisLimiter) Admit(ctx context.Context, identity string) Decision {
	key := redisKeyPrefix + identity

	claimed, err := l.client.SetNX(ctx, key, "1", l.cooldown).Result()
	if err != nil {
		l.logger.Warn("rate limit store unavailable, admitting attempt",
			zap.String("identity", identity), zap.Error(err))
		return Decision{Allowed: true}
	}
	if claimed {
		return Decision{Allowed: true}
	}

	retryAfter := l.cooldown
	if ttl, err := l.client.PTTL(ctx, key).Result(); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}
