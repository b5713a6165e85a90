package tameng

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultClientName = "default"
)

// Client calls one remote service through a response cache, a circuit breaker, a
// bounded rate-limited scheduler and an ordered middleware chain. It is safe for
// concurrent use.
type Client struct {
	name          string
	baseURL       string
	headers       map[string]string
	timeout       time.Duration
	httpClient    *http.Client
	middleware    middlewareChain
	maxConcurrent int
	rateLimit     *RateLimit
	circuitConfig CircuitBreakerConfig

	circuitBreaker *CircuitBreaker
	cache          *ResponseCache
	scheduler      *RequestScheduler
	inflight       singleflight.Group

	logger  Logger
	metrics *MetricsCollector

	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		name:          defaultClientName,
		headers:       map[string]string{"Content-Type": "application/json"},
		timeout:       defaultTimeout,
		httpClient:    &http.Client{},
		maxConcurrent: defaultMaxConcurrent,
		logger:        NewNopLogger(),
	}

	for _, option := range options {
		option(client)
	}

	client.circuitBreaker = NewCircuitBreaker(client.circuitConfig)
	client.circuitBreaker.onStateChange = client.circuitChanged
	client.cache = NewResponseCache()
	client.scheduler = NewRequestScheduler(client.maxConcurrent, client.rateLimit)

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}
	if client.logger == nil {
		client.logger = NewNopLogger()
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{}
	}
	if client.timeout <= 0 {
		client.timeout = defaultTimeout
	}

	return client
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs a POST request with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, body, opts...)
}

// Put performs a PUT request with body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, body, opts...)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, nil, opts...)
}

// Request builds a RequestConfig for method and path and executes it. A nil body sends
// no body, a []byte or json.RawMessage is sent as is, anything else is JSON encoded.
func (c *Client) Request(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	config := &RequestConfig{
		Method:  method,
		Path:    path,
		Headers: copyStringMap(c.headers),
		Params:  make(map[string]string),
	}

	encoded, err := encodeBody(body)
	if err != nil {
		return nil, newHTTPError(ErrorTypeValidation, "encode request body", config, err)
	}
	config.Body = encoded

	for _, opt := range opts {
		opt(config)
	}

	return c.Do(ctx, config)
}

// Do executes config. The client takes ownership of config and its maps.
//
// A 2xx response with an empty body succeeds with Data == nil rather than failing with
// PARSE_ERROR, so 204 No Content and bodiless 200s are not treated as parse failures.
//
// Cache-directed misses on the same key share one transport call. A caller whose ctx is
// done stops waiting with a Timeout or Network error; the shared call carries on for the
// others and is not counted against the circuit breaker on that caller's behalf.
func (c *Client) Do(ctx context.Context, config *RequestConfig) (*Response, error) {
	if config.Method == "" {
		config.Method = http.MethodGet
	}
	config.URL = c.resolveURL(config.Path, config.Params)

	if config.Cache == nil {
		return c.admit(ctx, config, "")
	}

	key := cacheKeyFor(config)
	if resp, ok := c.cache.Get(key); ok {
		c.logger.Debug("cache hit", "client", c.name, "key", key)
		c.metrics.RecordCacheHit(c.name, config.Method)
		return resp, nil
	}
	c.logger.Debug("cache miss", "client", c.name, "key", key)
	c.metrics.RecordCacheMiss(c.name, config.Method)

	// Concurrent misses on one key share a single admission.
	// The shared call outlives any single caller's cancellation; the request timeout
	// still bounds it. Each caller stops waiting when its own ctx is done.
	shared := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (any, error) {
		if resp, ok := c.cache.Get(key); ok {
			return resp, nil
		}
		return c.admit(shared, config, key)
	})

	select {
	case <-ctx.Done():
		return nil, abandoned(config, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	}
}

func (c *Client) admit(ctx context.Context, config *RequestConfig, cacheKey string) (*Response, error) {
	if !c.circuitBreaker.Allow() {
		c.logger.Warn("circuit breaker open, request rejected",
			"client", c.name, "method", config.Method, "url", config.URL)
		return nil, newHTTPError(ErrorTypeCircuitOpen, "circuit breaker is open", config, nil)
	}

	done := c.scheduler.Submit(func() (any, error) {
		return c.attempt(ctx, config, cacheKey)
	})
	c.metrics.RecordSchedulerQueue(c.name, c.scheduler.Pending())

	res := <-done
	if errors.Is(res.Err, ErrSchedulerClosed) {
		return nil, res.Err
	}
	if res.Err != nil {
		c.circuitBreaker.RecordFailure()
		return nil, res.Err
	}
	c.circuitBreaker.RecordSuccess()
	return res.Value.(*Response), nil
}

// attempt runs once the scheduler has admitted the request.
func (c *Client) attempt(ctx context.Context, config *RequestConfig, cacheKey string) (*Response, error) {
	config, err := c.middleware.runPre(ctx, config)
	if err != nil {
		return nil, err
	}
	config.URL = c.resolveURL(config.Path, config.Params)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if config.Body != nil {
		body = bytes.NewReader(config.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, config.Method, config.URL, body)
	if err != nil {
		return nil, newHTTPError(ErrorTypeNetwork, "build request", config, err)
	}
	for k, v := range config.Headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(config, timeout, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, transportError(config, timeout, err)
	}

	respURL := config.URL
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		respURL = httpResp.Request.URL.String()
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, statusError(config, httpResp, respURL, raw)
	}

	resp := &Response{
		Body:   raw,
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Config: config,
		URL:    respURL,
	}

	if len(raw) > 0 {
		var data any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, c.parseFailure(ctx, resp, err)
		}
		resp.Data = data
	}

	resp, err = c.middleware.runPost(ctx, resp)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		c.cache.Set(cacheKey, resp, config.Cache.TTL)
		c.metrics.RecordCacheSize(c.name, c.cache.Len())
	}

	return resp, nil
}

// parseFailure runs the error hooks and then the post hooks on the partial response.
// The returned error is never nil.
func (c *Client) parseFailure(ctx context.Context, resp *Response, cause error) error {
	httpErr := newHTTPError(ErrorTypeParse, "Failed to parse response data", resp.Config, cause)
	httpErr.Status = resp.Status
	httpErr.Code = CodeParseError
	httpErr.URL = resp.URL
	httpErr.Data = string(resp.Body)

	err := c.middleware.runError(ctx, httpErr)

	if _, postErr := c.middleware.runPost(ctx, resp); postErr != nil {
		c.logger.Warn("post hook failed after parse error", "client", c.name, "error", postErr)
	}
	return err
}

func (c *Client) circuitChanged(open bool) {
	if open {
		state := c.circuitBreaker.Snapshot()
		c.logger.Warn("circuit breaker opened", "client", c.name, "failures", state.FailureCount)
	} else {
		c.logger.Info("circuit breaker closed", "client", c.name)
	}
	c.metrics.RecordCircuitState(c.name, open)
}

// resolveURL joins the base URL and path and appends params sorted by key.
func (c *Client) resolveURL(path string, params map[string]string) string {
	base := strings.TrimSuffix(c.baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := base + path

	if len(params) == 0 {
		return target
	}
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return target + "?" + values.Encode()
}

// CircuitState returns a snapshot of the client's circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.circuitBreaker.Snapshot()
}

// Name is the label the client reports metrics and logs under.
func (c *Client) Name() string {
	return c.name
}

// Close stops the scheduler. Requests still waiting for admission fail with
// ErrSchedulerClosed.
func (c *Client) Close() {
	c.scheduler.Close()
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

func transportError(config *RequestConfig, timeout time.Duration, err error) *HTTPError {
	if errors.Is(err, context.DeadlineExceeded) {
		httpErr := newHTTPError(ErrorTypeTimeout, fmt.Sprintf("request timed out after %s", timeout), config, err)
		httpErr.Code = "TIMEOUT"
		return httpErr
	}
	httpErr := newHTTPError(ErrorTypeNetwork, "network request failed", config, err)
	httpErr.Code = err.Error()
	return httpErr
}

// abandoned reports a caller that stopped waiting for a shared call.
func abandoned(config *RequestConfig, err error) *HTTPError {
	if errors.Is(err, context.DeadlineExceeded) {
		httpErr := newHTTPError(ErrorTypeTimeout, "request deadline exceeded while waiting", config, err)
		httpErr.Code = "TIMEOUT"
		return httpErr
	}
	httpErr := newHTTPError(ErrorTypeNetwork, "request canceled while waiting", config, err)
	httpErr.Code = err.Error()
	return httpErr
}

func statusError(config *RequestConfig, httpResp *http.Response, respURL string, raw []byte) *HTTPError {
	httpErr := newHTTPError(ErrorTypeHTTPStatus,
		fmt.Sprintf("HTTP Error %d for %s", httpResp.StatusCode, respURL), config, nil)
	httpErr.Status = httpResp.StatusCode
	httpErr.Code = statusText(httpResp)
	httpErr.URL = respURL
	httpErr.Data = decodePayload(raw)
	return httpErr
}

// statusText is the reason phrase the server sent, e.g. "Not Found".
func statusText(httpResp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(httpResp.Status, strconv.Itoa(httpResp.StatusCode)))
	if text == "" {
		text = http.StatusText(httpResp.StatusCode)
	}
	return text
}

// decodePayload returns raw as a JSON document when it is one, otherwise as text.
func decodePayload(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err == nil {
		return data
	}
	return string(raw)
}
