package tameng

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WithName sets the label used in logs and client-level metrics.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithBaseURL sets the URL every request path is appended to.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHeaders merges headers into the defaults sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			setHeader(c.headers, k, v)
		}
	}
}

// WithTimeout sets the default per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMiddleware appends middleware to the client. Hooks run in the order given.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithMaxConcurrent caps the number of requests in flight at once.
func WithMaxConcurrent(n int) Option {
	return func(c *Client) {
		c.maxConcurrent = n
	}
}

// WithRateLimit allows at most requests starts per window of length per.
func WithRateLimit(requests int, per time.Duration) Option {
	return func(c *Client) {
		c.rateLimit = &RateLimit{Requests: requests, Per: per}
	}
}

// WithCircuitBreaker sets the circuit breaker configuration
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitConfig = config
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger for client events
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetricsCollector sets the collector for client-level metrics
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithRequestHeader sets one header on a request.
func WithRequestHeader(key, value string) RequestOption {
	return func(rc *RequestConfig) {
		if rc.Headers == nil {
			rc.Headers = make(map[string]string)
		}
		setHeader(rc.Headers, key, value)
	}
}

// WithRequestHeaders sets several headers on a request.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(rc *RequestConfig) {
		for k, v := range headers {
			WithRequestHeader(k, v)(rc)
		}
	}
}

// WithRequestTimeout overrides the client timeout for one request.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(rc *RequestConfig) {
		rc.Timeout = d
	}
}

// WithQueryParam adds a query parameter.
func WithQueryParam(key, value string) RequestOption {
	return func(rc *RequestConfig) {
		if rc.Params == nil {
			rc.Params = make(map[string]string)
		}
		rc.Params[key] = value
	}
}

// WithQueryParams adds several query parameters.
func WithQueryParams(params map[string]string) RequestOption {
	return func(rc *RequestConfig) {
		for k, v := range params {
			WithQueryParam(k, v)(rc)
		}
	}
}

// WithCacheTTL caches a successful response under the default METHOD:path key.
func WithCacheTTL(ttl time.Duration) RequestOption {
	return func(rc *RequestConfig) {
		rc.Cache = &CacheDirective{TTL: ttl}
	}
}

// WithCacheKey caches a successful response under key.
func WithCacheKey(key string, ttl time.Duration) RequestOption {
	return func(rc *RequestConfig) {
		rc.Cache = &CacheDirective{TTL: ttl, Key: key}
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateTransportConfig()...)
	problems = append(problems, c.validateSchedulerConfig()...)
	problems = append(problems, c.validateCircuitBreakerConfig()...)
	problems = append(problems, c.validateMiddlewareConfig()...)
	problems = append(problems, c.validateExtremeValues()...)

	if len(problems) > 0 {
		return newHTTPError(ErrorTypeValidation, "configuration validation failed", nil,
			errors.New(strings.Join(problems, "; ")))
	}

	return nil
}

func (c *Client) validateTransportConfig() []string {
	var problems []string

	if c.httpClient == nil {
		problems = append(problems, "HTTP client cannot be nil")
	}
	if c.timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.baseURL != "" {
		u, err := url.Parse(c.baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("baseURL %q must be an absolute URL", c.baseURL))
		}
	}
	if c.logger == nil {
		problems = append(problems, "logger cannot be nil")
	}

	return problems
}

func (c *Client) validateSchedulerConfig() []string {
	var problems []string

	if c.maxConcurrent <= 0 {
		problems = append(problems, "maxConcurrent must be positive")
	}
	if c.rateLimit != nil {
		if c.rateLimit.Requests <= 0 {
			problems = append(problems, "rateLimit requests must be positive")
		}
		if c.rateLimit.Per <= 0 {
			problems = append(problems, "rateLimit interval must be positive")
		}
	}

	return problems
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var problems []string

	if c.circuitConfig.FailureThreshold < 0 {
		problems = append(problems, "circuitBreaker FailureThreshold must not be negative")
	}
	if c.circuitConfig.ResetTimeout < 0 {
		problems = append(problems, "circuitBreaker ResetTimeout must not be negative")
	}

	return problems
}

func (c *Client) validateMiddlewareConfig() []string {
	var problems []string

	for i, m := range c.middleware {
		if m.Pre == nil && m.Post == nil && m.Error == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] has no hooks", i))
		}
	}

	return problems
}

func (c *Client) validateExtremeValues() []string {
	var problems []string

	if c.timeout > 10*time.Minute {
		problems = append(problems, "timeout > 10m may cause requests to hang for too long")
	}
	if c.rateLimit != nil && c.rateLimit.Per > 0 && c.rateLimit.Per < time.Millisecond {
		problems = append(problems, "rateLimit interval < 1ms may cause excessive CPU usage")
	}

	return problems
}
