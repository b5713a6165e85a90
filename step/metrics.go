package step

import (
	"context"
	"net/http"
	"time"

	"github.com/ambiyansyah-risyal/tameng"
)

// MetricsMethod is the method label step metrics are recorded under.
const MetricsMethod = "STEP"

// MetricsConfig configures WithMetrics.
type MetricsConfig struct {
	// Name is used as the path label.
	Name      string
	Collector *tameng.MetricsCollector
	Logger    tameng.Logger
}

type metricsStep[I, O any] struct {
	next   Step[I, O]
	config MetricsConfig
}

// WithMetrics records an active gauge, a request count and a duration for every
// execution of s, and an error count when it fails.
func WithMetrics[I, O any](s Step[I, O], config MetricsConfig) Step[I, O] {
	if config.Logger == nil {
		config.Logger = tameng.NewNopLogger()
	}
	return &metricsStep[I, O]{next: s, config: config}
}

func (m *metricsStep[I, O]) Execute(ctx context.Context, input I, sc Context) (Result[O], error) {
	collector := m.config.Collector
	release := collector.TrackActiveRequest(m.config.Name)
	defer release()

	m.config.Logger.Debug("starting step execution", "step", m.config.Name, "jobId", sc.JobID)

	start := time.Now()
	result, err := m.next.Execute(ctx, input, sc)
	duration := time.Since(start)

	if err != nil {
		collector.RecordHTTPError(tameng.HTTPErrorMetrics{
			Method:    MetricsMethod,
			Path:      m.config.Name,
			Status:    http.StatusInternalServerError,
			Duration:  duration,
			ErrorType: errorType(err),
			Error:     err.Error(),
		})
		return result, err
	}

	status := http.StatusOK
	if result.Metadata.Status == StatusError {
		status = http.StatusInternalServerError
	}
	metrics := tameng.HTTPMetrics{
		Method:   MetricsMethod,
		Path:     m.config.Name,
		Status:   status,
		Duration: duration,
	}
	collector.RecordHTTPRequest(metrics)
	collector.RecordHTTPDuration(metrics)

	return result, nil
}

func errorType(err error) string {
	if httpErr, ok := tameng.AsHTTPError(err); ok {
		return httpErr.Type
	}
	return "unknown"
}
