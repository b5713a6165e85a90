package tameng

import (
	"context"
	"errors"
	"time"

	"github.com/ambiyansyah-risyal/tameng/internal/backoff"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = time.Second
)

// RetryPolicy re-runs a failed unit of work with exponential backoff. Every error is
// retried the same way; the policy does not look at what failed.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Values below 1 mean one attempt.
	MaxAttempts int
	// Backoff is the delay after the first failure; it doubles after each further one.
	Backoff time.Duration
	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy returns a policy for maxAttempts attempts starting at backoff.
func NewRetryPolicy(maxAttempts int, backoff time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
	}
}

// DefaultRetryPolicy is three attempts with a one second initial backoff.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(defaultRetryAttempts, defaultRetryBackoff)
}

// Delay returns the wait after the given failed attempt: Backoff * 2^(attempt-1).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	return backoff.NewCalculator(backoff.Exponential{}, p.Backoff).Delay(attempt)
}

// Do calls fn until it succeeds or MaxAttempts is reached. attempt is 1-based. The last
// error is returned as is, without a trailing delay. If ctx is done while waiting, Do
// returns the last error joined with the context error.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

// Retry is a generic convenience over RetryPolicy.Do for calls that return a value.
func Retry[T any](ctx context.Context, p *RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
