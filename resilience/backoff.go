package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffPolicy centralizes the retry tuning that used to be scattered
// as ad-hoc constants at each retry call site: the LLM client's
// timeout/transport retry and the model registry's refresh retry both
// build their delay schedule from one of these.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      bool
}

// DefaultBackoffPolicy is the policy used when a component isn't
// configured with one explicitly.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 3,
		Jitter:      true,
	}
}

func (p BackoffPolicy) exponentialBackOff() *backoff.ExponentialBackOff {
	randomization := 0.0
	if p.Jitter {
		randomization = 0.2
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		MaxInterval:         p.MaxDelay,
		Multiplier:          2.0,
		RandomizationFactor: randomization,
	}
}

// Retry runs op until it succeeds, op returns a Permanent error, ctx is
// canceled, or MaxAttempts is exhausted, sleeping between attempts
// according to the policy's exponential schedule.
func Retry[T any](ctx context.Context, policy BackoffPolicy, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.exponentialBackOff()),
		backoff.WithMaxTries(uint(maxInt(policy.MaxAttempts, 1))),
	)
}

// Permanent marks err as non-retryable, stopping Retry immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
