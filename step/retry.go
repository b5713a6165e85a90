package step

import (
	"context"
	"time"

	"github.com/ambiyansyah-risyal/tameng"
)

// RetryConfig configures WithRetry.
type RetryConfig struct {
	// Name identifies the step in logs.
	Name        string
	MaxAttempts int
	Backoff     time.Duration
}

type retryStep[I, O any] struct {
	next   Step[I, O]
	config RetryConfig
	policy *tameng.RetryPolicy
	logger tameng.Logger
}

// WithRetry re-executes s with exponential backoff until it succeeds or MaxAttempts is
// reached. Each attempt sees Context.RetryCount set to the number of earlier failures.
func WithRetry[I, O any](s Step[I, O], config RetryConfig, logger tameng.Logger) Step[I, O] {
	if logger == nil {
		logger = tameng.NewNopLogger()
	}
	return &retryStep[I, O]{
		next:   s,
		config: config,
		policy: tameng.NewRetryPolicy(config.MaxAttempts, config.Backoff),
		logger: logger,
	}
}

func (r *retryStep[I, O]) Execute(ctx context.Context, input I, sc Context) (Result[O], error) {
	attempts := r.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return tameng.Retry(ctx, r.policy, func(ctx context.Context, attempt int) (Result[O], error) {
		attemptCtx := sc
		attemptCtx.RetryCount = attempt - 1

		result, err := r.next.Execute(ctx, input, attemptCtx)
		if err != nil {
			r.logger.Warn("step attempt failed",
				"step", r.config.Name,
				"jobId", sc.JobID,
				"attempt", attempt,
				"maxAttempts", attempts,
				"isLastAttempt", attempt == attempts,
				"error", err,
			)
		}
		return result, err
	})
}
