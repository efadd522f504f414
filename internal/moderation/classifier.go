// Package moderation adapts an external content classifier into a binary
// allow/block verdict for submission text.
package moderation

import (
	"context"
	"errors"
)

// Verdict is the binary outcome of classifying a piece of text.
type Verdict int

const (
	// VerdictAllow marks text as publishable.
	VerdictAllow Verdict = iota
	// VerdictBlock marks text as rejected by the classifier.
	VerdictBlock
)

// ErrUnavailable indicates the classifier could not produce a verdict: the
// provider was unreachable, timed out, or returned a malformed response. It is
// distinct from VerdictBlock; callers must not treat an unreachable classifier
// as a rejection.
var ErrUnavailable = errors.New("moderation: classifier unavailable")

// Classifier produces a verdict for submission text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// String returns a readable verdict label for logging.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictBlock:
		return "block"
	default:
		return "unknown"
	}
}
