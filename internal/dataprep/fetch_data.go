package dataprep

import (
	"context"
	"time"

	"github.com/ambiyansyah-risyal/tameng"
	"github.com/ambiyansyah-risyal/tameng/step"
)

// FetchDataStepName labels the step in logs and metrics.
const FetchDataStepName = "FetchDataStep"

// FetchDataInput selects a dataset. Params become query parameters and a positive
// Timeout overrides the client timeout.
type FetchDataInput struct {
	ID      string
	Params  map[string]string
	Timeout time.Duration
}

// FetchDataOutput is a fetched dataset.
type FetchDataOutput struct {
	Records         []Record
	TotalRecords    int
	LastProcessedAt time.Time
}

// FetchDataStep loads one dataset from the core API.
type FetchDataStep struct {
	users *UserService
}

// NewFetchDataStep returns the bare step, without retry or metrics.
func NewFetchDataStep(users *UserService) *FetchDataStep {
	return &FetchDataStep{users: users}
}

// Execute implements step.Step.
func (s *FetchDataStep) Execute(ctx context.Context, input FetchDataInput, _ step.Context) (step.Result[FetchDataOutput], error) {
	start := time.Now()

	var opts []tameng.RequestOption
	if len(input.Params) > 0 {
		opts = append(opts, tameng.WithQueryParams(input.Params))
	}
	if input.Timeout > 0 {
		opts = append(opts, tameng.WithRequestTimeout(input.Timeout))
	}

	records, err := s.users.GetData(ctx, input.ID, opts...)
	if err != nil {
		return step.Failed[FetchDataOutput](err, start), err
	}

	return step.Succeeded(FetchDataOutput{
		Records:         records,
		TotalRecords:    len(records),
		LastProcessedAt: time.Now(),
	}, start), nil
}

// StepOptions configures the layers around FetchDataStep.
type StepOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	Collector   *tameng.MetricsCollector
	Logger      tameng.Logger
}

// InstrumentedFetchData wraps s with retry inside metrics, so one metrics sample covers
// every attempt of an execution.
func InstrumentedFetchData(s step.Step[FetchDataInput, FetchDataOutput], opts StepOptions) step.Step[FetchDataInput, FetchDataOutput] {
	retrying := step.WithRetry(s, step.RetryConfig{
		Name:        FetchDataStepName,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
	}, opts.Logger)

	return step.WithMetrics(retrying, step.MetricsConfig{
		Name:      FetchDataStepName,
		Collector: opts.Collector,
		Logger:    opts.Logger,
	})
}
