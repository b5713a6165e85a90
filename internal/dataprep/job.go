package dataprep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ambiyansyah-risyal/tameng"
	"github.com/ambiyansyah-risyal/tameng/config"
	"github.com/ambiyansyah-risyal/tameng/internal/app"
	"github.com/ambiyansyah-risyal/tameng/step"
)

// JobContext is the step context plus what the job works on.
type JobContext struct {
	step.Context
	SourceID   string
	TargetID   string
	ServiceURL string
}

// NewJobContext starts a new run of the job described by cfg.
func NewJobContext(cfg config.JobConfig) JobContext {
	return JobContext{
		Context: step.Context{
			JobID:     uuid.NewString(),
			Timestamp: time.Now(),
			DryRun:    cfg.DryRun,
		},
		SourceID:   cfg.SourceID,
		TargetID:   cfg.TargetID,
		ServiceURL: cfg.ServiceURL,
	}
}

// Summary reports what one run fetched.
type Summary struct {
	JobID         string
	SourceRecords int
	TargetRecords int
	Duration      time.Duration
}

// Job fetches the source and target datasets.
type Job struct {
	fetch  step.Step[FetchDataInput, FetchDataOutput]
	logger tameng.Logger
}

// NewJob returns a job running fetch for each dataset.
func NewJob(fetch step.Step[FetchDataInput, FetchDataOutput], logger tameng.Logger) *Job {
	if logger == nil {
		logger = tameng.NewNopLogger()
	}
	return &Job{fetch: fetch, logger: logger}
}

// NewJobFromContainer builds the job on the container's core client with the configured
// retry policy.
func NewJobFromContainer(c *app.Container) (*Job, error) {
	client, err := c.Clients.CoreClient()
	if err != nil {
		return nil, fmt.Errorf("core client: %w", err)
	}

	fetch := InstrumentedFetchData(NewFetchDataStep(NewUserService(client)), StepOptions{
		MaxAttempts: c.Config.Retry.MaxAttempts,
		Backoff:     c.Config.Retry.Backoff,
		Collector:   c.Metrics,
		Logger:      c.Logger,
	})
	return NewJob(fetch, c.Logger), nil
}

// Execute fetches both datasets concurrently. The first failure cancels the other fetch.
func (j *Job) Execute(ctx context.Context, jc JobContext) (*Summary, error) {
	start := time.Now()
	j.logger.Info("Starting data preparation job",
		"jobId", jc.JobID,
		"sourceId", jc.SourceID,
		"targetId", jc.TargetID,
		"dryRun", jc.DryRun,
	)

	var source, target step.Result[FetchDataOutput]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		source, err = j.fetch.Execute(gctx, FetchDataInput{ID: jc.SourceID}, jc.Context)
		if err != nil {
			return fmt.Errorf("fetch source %s: %w", jc.SourceID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		target, err = j.fetch.Execute(gctx, FetchDataInput{ID: jc.TargetID}, jc.Context)
		if err != nil {
			return fmt.Errorf("fetch target %s: %w", jc.TargetID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		j.logger.Error("Data preparation failed", "jobId", jc.JobID, "error", err)
		return nil, err
	}

	summary := &Summary{
		JobID:         jc.JobID,
		SourceRecords: source.Data.TotalRecords,
		TargetRecords: target.Data.TotalRecords,
		Duration:      time.Since(start),
	}
	j.logger.Info("Data preparation completed",
		"jobId", jc.JobID,
		"recordsProcessed", summary.SourceRecords,
		"targetRecords", summary.TargetRecords,
		"duration", summary.Duration,
	)
	return summary, nil
}
