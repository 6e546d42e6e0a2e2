package crawler

import (
	"context"
	"errors"
)

// DefaultAttempts is how many times a page or thread is tried before it is skipped.
const DefaultAttempts = 5

// FixedRetryPolicy retries every failure up to a fixed number of attempts.
// Pacing between attempts comes from the shared gate, so there is no backoff.
type FixedRetryPolicy struct {
	maxAttempts int
}

// NewFixedRetryPolicy builds a policy; non-positive values fall back to DefaultAttempts.
func NewFixedRetryPolicy(maxAttempts int) *FixedRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	return &FixedRetryPolicy{maxAttempts: maxAttempts}
}

// MaxAttempts returns the attempt budget per item.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt is allowed after err.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
