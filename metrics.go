package tameng

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics describes one completed request.
type HTTPMetrics struct {
	Method   string
	Path     string
	Status   int
	Duration time.Duration
}

// HTTPErrorMetrics describes one failed request. ErrorType is the error code, or
// "unknown" when the error carried none.
type HTTPErrorMetrics struct {
	Method    string
	Path      string
	Status    int
	Duration  time.Duration
	ErrorType string
	Error     string
}

// MetricsCollector records request and reliability metrics in Prometheus. It is safe for
// concurrent use and every method is a no-op on a nil collector.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	activeRequests  *prometheus.GaugeVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec
	circuitOpen    *prometheus.GaugeVec
	schedulerQueue *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a collector on a fresh registry.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registry.
func NewMetricsCollectorWithRegistry(registry *prometheus.Registry) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_ms",
				Help:    "HTTP request duration in milliseconds",
				Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
			},
			[]string{"method", "path", "status"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "errorType"},
		),
		activeRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"method"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tameng_cache_hits_total",
				Help: "Total number of response cache hits",
			},
			[]string{"client", "method"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tameng_cache_misses_total",
				Help: "Total number of response cache misses",
			},
			[]string{"client", "method"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tameng_cache_entries",
				Help: "Current number of entries in the response cache",
			},
			[]string{"client"},
		),
		circuitOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tameng_circuit_open",
				Help: "Circuit breaker state (0=closed, 1=open)",
			},
			[]string{"client"},
		),
		schedulerQueue: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tameng_scheduler_pending",
				Help: "Number of requests waiting for scheduler admission",
			},
			[]string{"client"},
		),
		registry: registry,
	}
}

// RecordHTTPRequest counts a request by method, path and status.
func (mc *MetricsCollector) RecordHTTPRequest(m HTTPMetrics) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(m.Method, m.Path, strconv.Itoa(m.Status)).Inc()
}

// RecordHTTPDuration observes the request duration in milliseconds.
func (mc *MetricsCollector) RecordHTTPDuration(m HTTPMetrics) {
	if mc == nil {
		return
	}

	mc.requestDuration.WithLabelValues(m.Method, m.Path, strconv.Itoa(m.Status)).
		Observe(float64(m.Duration) / float64(time.Millisecond))
}

// RecordHTTPError counts a failure by method, path and error type.
func (mc *MetricsCollector) RecordHTTPError(m HTTPErrorMetrics) {
	if mc == nil {
		return
	}

	errorType := m.ErrorType
	if errorType == "" {
		errorType = "unknown"
	}
	mc.errorsTotal.WithLabelValues(m.Method, m.Path, errorType).Inc()
}

// TrackActiveRequest increments the active gauge for method and returns the matching
// decrement. The returned func is safe to call more than once.
func (mc *MetricsCollector) TrackActiveRequest(method string) func() {
	if mc == nil {
		return func() {}
	}

	gauge := mc.activeRequests.WithLabelValues(method)
	gauge.Inc()

	var once sync.Once
	return func() {
		once.Do(gauge.Dec)
	}
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(client, method string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(client, method).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(client, method string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(client, method).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(client string, size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.WithLabelValues(client).Set(float64(size))
}

// RecordCircuitState sets the breaker gauge.
func (mc *MetricsCollector) RecordCircuitState(client string, open bool) {
	if mc == nil {
		return
	}

	var value float64
	if open {
		value = 1
	}
	mc.circuitOpen.WithLabelValues(client).Set(value)
}

// RecordSchedulerQueue sets the pending admission gauge.
func (mc *MetricsCollector) RecordSchedulerQueue(client string, pending int) {
	if mc == nil {
		return
	}

	mc.schedulerQueue.WithLabelValues(client).Set(float64(pending))
}

// GetRegistry exposes the underlying prometheus registry.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}
