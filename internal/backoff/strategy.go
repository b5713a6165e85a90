package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns the wait after the given failed attempt (1-based).
	Delay(attempt int, base time.Duration) time.Duration
}

const (
	maxShift    = 30
	maxDuration = time.Duration(math.MaxInt64)
)

// Exponential doubles the delay after every failure: base, 2*base, 4*base, ...
// There is no jitter; the delay saturates instead of overflowing.
type Exponential struct{}

// Delay implements Strategy.
func (Exponential) Delay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}

	if base > maxDuration>>shift {
		return maxDuration
	}
	return base << shift
}
