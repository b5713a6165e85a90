package tameng

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CacheDirective opts a single request into the response cache.
type CacheDirective struct {
	TTL time.Duration
	// Key overrides the default METHOD:path cache key.
	Key string
}

// RequestConfig describes one outgoing request. It is built fresh for every call and
// belongs to that call only, so pre hooks may mutate it in place.
type RequestConfig struct {
	Method  string
	Path    string
	URL     string
	Headers map[string]string
	Body    []byte
	Params  map[string]string
	Timeout time.Duration
	Cache   *CacheDirective

	// StartTime is stamped by MetricsMiddleware and left zero otherwise.
	StartTime time.Time
}

// Clone returns a deep copy of the config.
func (rc *RequestConfig) Clone() *RequestConfig {
	if rc == nil {
		return nil
	}
	cp := *rc
	cp.Headers = copyStringMap(rc.Headers)
	cp.Params = copyStringMap(rc.Params)
	if rc.Body != nil {
		cp.Body = append([]byte(nil), rc.Body...)
	}
	if rc.Cache != nil {
		cache := *rc.Cache
		cp.Cache = &cache
	}
	return &cp
}

// setHeader stores value under key, replacing any key that differs only in case.
func setHeader(headers map[string]string, key, value string) {
	for k := range headers {
		if k != key && strings.EqualFold(k, key) {
			delete(headers, k)
		}
	}
	headers[key] = value
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Response is a completed, parsed response. It is shared read-only between the
// caller, the cache and middlewares once constructed.
type Response struct {
	// Data holds the decoded JSON document (nil for an empty body).
	Data   any
	Body   []byte
	Status int
	Header http.Header
	Config *RequestConfig
	URL    string
}

// Decode unmarshals the raw response body into v.
func (r *Response) Decode(v any) error {
	if r == nil {
		return fmt.Errorf("tameng: decode nil response")
	}
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// DecodeAs decodes the response body into a value of type T.
func DecodeAs[T any](r *Response) (T, error) {
	var out T
	err := r.Decode(&out)
	return out, err
}

// PreHook runs before the transport call. Returning a nil config keeps the one passed in.
type PreHook func(ctx context.Context, config *RequestConfig) (*RequestConfig, error)

// PostHook runs after a 2xx response was parsed. Returning a nil response keeps the one
// passed in.
type PostHook func(ctx context.Context, resp *Response) (*Response, error)

// ErrorHook observes a parse failure. A non-nil return replaces the error that
// propagates; the failure always propagates.
type ErrorHook func(ctx context.Context, err *HTTPError) error

// Middleware is a set of optional hooks. Nil hooks are skipped.
type Middleware struct {
	Name  string
	Pre   PreHook
	Post  PostHook
	Error ErrorHook
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// CircuitState is a point-in-time snapshot of the breaker.
type CircuitState struct {
	FailureCount  int
	LastFailureAt time.Time
	IsOpen        bool
}

// RateLimit allows at most Requests task starts per Per-long window.
type RateLimit struct {
	Requests int
	Per      time.Duration
}

// CacheEntry is a stored response and its expiry.
type CacheEntry struct {
	Value     *Response
	ExpiresAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// RequestOption configures a single request.
type RequestOption func(*RequestConfig)
