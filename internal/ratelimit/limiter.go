// Package ratelimit provides per-client admission control for submission
// attempts. A client identity is admitted when its previous accepted attempt
// falls outside the configured cooldown window.
package ratelimit

import (
	"context"
	"time"
)

// Decision reports the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter gates submission attempts per client identity. Implementations never
// return an error; an unreachable backing store degrades to admitting the
// attempt rather than failing the request.
type Limiter interface {
	Admit(ctx context.Context, identity string) Decision
}
