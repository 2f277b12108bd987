package irail

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
)

// RetryPolicy controls how failed requests are retried.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts including the first
	RateLimitBase  time.Duration // first delay after a 429, doubled on every retry
	TransientDelay time.Duration // fixed delay after a transient error
}

// DefaultRetryPolicy waits 2s then 4s on rate limiting and 1s on transient
// errors, with 3 attempts in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		RateLimitBase:  2 * time.Second,
		TransientDelay: time.Second,
	}
}

// PolicyFromConfig reads the retry settings from cfg.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.FetchMaxAttempts > 0 {
		p.MaxAttempts = cfg.FetchMaxAttempts
	}
	if cfg.RateLimitBackoff > 0 {
		p.RateLimitBase = cfg.RateLimitBackoff
	}
	if cfg.TransientRetryDelay > 0 {
		p.TransientDelay = cfg.TransientRetryDelay
	}
	return p
}

// stationBackOff implements backoff.BackOff. The delay depends on the error
// of the attempt that just failed, which the operation records in lastErr.
type stationBackOff struct {
	policy  RetryPolicy
	lastErr error
	retries int
}

func (b *stationBackOff) NextBackOff() time.Duration {
	defer func() { b.retries++ }()

	var rl *RateLimitError
	if errors.As(b.lastErr, &rl) {
		return b.policy.RateLimitBase << b.retries
	}
	return b.policy.TransientDelay
}

func (b *stationBackOff) Reset() {
	b.lastErr = nil
	b.retries = 0
}

// build wraps b with the attempt cap and ctx cancellation.
func (b *stationBackOff) build(ctx context.Context) backoff.BackOff {
	maxRetries := b.policy.MaxAttempts - 1
	if maxRetries <= 0 {
		// WithMaxRetries treats 0 as unlimited
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}
