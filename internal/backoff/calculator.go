package backoff

import (
	"context"
	"time"
)

// Calculator pairs a Strategy with a base delay.
type Calculator struct {
	strategy Strategy
	base     time.Duration
}

// NewCalculator creates a new backoff calculator with the specified strategy.
func NewCalculator(strategy Strategy, base time.Duration) *Calculator {
	if strategy == nil {
		strategy = Exponential{}
	}
	return &Calculator{
		strategy: strategy,
		base:     base,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (c *Calculator) Delay(attempt int) time.Duration {
	return c.strategy.Delay(attempt, c.base)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
