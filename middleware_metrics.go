package tameng

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// MetricsMiddleware records request count, duration and parse failures on collector.
// Pre stamps RequestConfig.StartTime; a request that never got stamped reports a zero
// duration. Collector panics are recovered and never change the request outcome.
func MetricsMiddleware(collector *MetricsCollector, logger Logger) Middleware {
	if logger == nil {
		logger = NewNopLogger()
	}
	return Middleware{
		Name: "metrics",
		Pre: func(_ context.Context, config *RequestConfig) (*RequestConfig, error) {
			config.StartTime = time.Now()
			return config, nil
		},
		Post: func(_ context.Context, resp *Response) (*Response, error) {
			m := HTTPMetrics{
				Method:   methodOf(resp.Config),
				Path:     pathOf(resp.URL),
				Status:   resp.Status,
				Duration: elapsedSince(resp.Config),
			}
			safeRecord(logger, func() {
				collector.RecordHTTPRequest(m)
				collector.RecordHTTPDuration(m)
			})
			return resp, nil
		},
		Error: func(_ context.Context, err *HTTPError) error {
			status := err.Status
			if status == 0 {
				status = http.StatusInternalServerError
			}
			target := err.URL
			if err.Config != nil && err.Config.URL != "" {
				target = err.Config.URL
			}
			m := HTTPErrorMetrics{
				Method:    methodOf(err.Config),
				Path:      pathOf(target),
				Status:    status,
				Duration:  elapsedSince(err.Config),
				ErrorType: err.Code,
				Error:     err.Message,
			}
			safeRecord(logger, func() {
				collector.RecordHTTPRequest(HTTPMetrics{
					Method:   m.Method,
					Path:     m.Path,
					Status:   m.Status,
					Duration: m.Duration,
				})
				collector.RecordHTTPError(m)
			})
			return nil
		},
	}
}

func safeRecord(logger Logger, record func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("metrics collector panicked", "panic", r)
		}
	}()
	record()
}

func methodOf(config *RequestConfig) string {
	if config == nil || config.Method == "" {
		return http.MethodGet
	}
	return config.Method
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func elapsedSince(config *RequestConfig) time.Duration {
	if config == nil || config.StartTime.IsZero() {
		return 0
	}
	return time.Since(config.StartTime)
}
