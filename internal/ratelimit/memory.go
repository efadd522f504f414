package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiterConfig bundles configuration for the process-local limiter.
type MemoryLimiterConfig struct {
	Cooldown time.Duration
	Clock    func() time.Time
}

// MemoryLimiter keeps the last accepted attempt per identity in process
// memory. State is not shared across instances; deployments with more than
// one replica should use the Redis limiter instead.
type MemoryLimiter struct {
	cooldown time.Duration
	clock    func() time.Time

	mu           sync.Mutex
	lastAccepted map[string]time.Time
}

// NewMemoryLimiter constructs an in-memory limiter with the provided cooldown.
func NewMemoryLimiter(cfg MemoryLimiterConfig) *MemoryLimiter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{
		cooldown:     cfg.Cooldown,
		clock:        clock,
		lastAccepted: make(map[string]time.Time),
	}
}

// Admit reports whether an attempt from identity may proceed and, on
// admission, records the attempt. The check and the record happen under one
// lock so two concurrent attempts inside the same window cannot both pass.
// A denied attempt leaves the window untouched.
func (l *MemoryLimiter) Admit(_ context.Context, identity string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if last, ok := l.lastAccepted[identity]; ok {
		elapsed := now.Sub(last)
		if elapsed < l.cooldown {
			return Decision{Allowed: false, RetryAfter: l.cooldown - elapsed}
		}
	}
	l.lastAccepted[identity] = now
	return Decision{Allowed: true}
}
