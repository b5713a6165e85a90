// Package step composes batch-job units of work. A Step is wrapped by value: WithRetry
// and WithMetrics each return a new Step around the one given, so the caller decides the
// order of the layers.
package step

import (
	"context"
	"time"
)

// Status is the outcome recorded in a Result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Context carries job-level information into every step.
type Context struct {
	JobID     string
	Timestamp time.Time
	DryRun    bool
	// RetryCount is the number of earlier failed attempts of the current step.
	RetryCount int
}

// Metadata describes one execution of a step.
type Metadata struct {
	Status    Status
	StartTime time.Time
	EndTime   time.Time
	Err       error
}

// Result is a step's output plus execution metadata.
type Result[O any] struct {
	Data     O
	Metadata Metadata
}

// Step transforms I into O.
type Step[I, O any] interface {
	Execute(ctx context.Context, input I, sc Context) (Result[O], error)
}

// Func adapts a function to Step.
type Func[I, O any] func(ctx context.Context, input I, sc Context) (Result[O], error)

// Execute implements Step.
func (f Func[I, O]) Execute(ctx context.Context, input I, sc Context) (Result[O], error) {
	return f(ctx, input, sc)
}

// Succeeded builds a successful Result that started at start and ends now.
func Succeeded[O any](data O, start time.Time) Result[O] {
	return Result[O]{
		Data: data,
		Metadata: Metadata{
			Status:    StatusSuccess,
			StartTime: start,
			EndTime:   time.Now(),
		},
	}
}

// Failed builds an error Result that started at start and ends now.
func Failed[O any](err error, start time.Time) Result[O] {
	return Result[O]{
		Metadata: Metadata{
			Status:    StatusError,
			StartTime: start,
			EndTime:   time.Now(),
			Err:       err,
		},
	}
}
