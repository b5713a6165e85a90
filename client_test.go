package tameng

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userJSON = `{"id":42,"name":"Ada"}`

type testUser struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// countingServer answers every request with status and body and counts hits.
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	client := New(opts...)
	require.True(t, client.IsValid(), "%v", client.ValidationError())
	t.Cleanup(client.Close)
	return client
}

func TestClientGet(t *testing.T) {
	server, hits := countingServer(t, http.StatusOK, userJSON)
	client := newTestClient(t, WithBaseURL(server.URL))

	resp, err := client.Get(context.Background(), "/users/42")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, map[string]any{"id": 42.0, "name": "Ada"}, resp.Data)
	assert.Equal(t, server.URL+"/users/42", resp.URL)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	user, err := DecodeAs[testUser](resp)
	require.NoError(t, err)
	assert.Equal(t, testUser{ID: 42, Name: "Ada"}, user)
}

func TestClientMethodsAndBodies(t *testing.T) {
	type seen struct {
		method, contentType, body string
	}
	var mu sync.Mutex
	var requests []seen
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, seen{r.Method, r.Header.Get("Content-Type"), string(b)})
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, WithBaseURL(server.URL))
	ctx := context.Background()

	_, err := client.Post(ctx, "/users", testUser{ID: 1, Name: "Ada"})
	require.NoError(t, err)
	_, err = client.Put(ctx, "/users/1", []byte(`{"raw":true}`))
	require.NoError(t, err)
	_, err = client.Delete(ctx, "/users/1")
	require.NoError(t, err)
	_, err = client.Post(ctx, "/empty", nil)
	require.NoError(t, err)

	require.Len(t, requests, 4)
	assert.Equal(t, seen{"POST", "application/json", `{"id":1,"name":"Ada"}`}, requests[0])
	assert.Equal(t, seen{"PUT", "application/json", `{"raw":true}`}, requests[1])
	assert.Equal(t, seen{"DELETE", "application/json", ""}, requests[2])
	assert.Equal(t, "", requests[3].body)
}

func TestClientUnencodableBody(t *testing.T) {
	client := newTestClient(t, WithBaseURL("http://example.com"))

	_, err := client.Post(context.Background(), "/x", make(chan int))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClientURLResolution(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		path   string
		params map[string]string
		want   string
	}{
		{"plain", "http://api.test", "/users", nil, "http://api.test/users"},
		{"trailing slash on base", "http://api.test/", "/users", nil, "http://api.test/users"},
		{"missing leading slash", "http://api.test/v1", "users", nil, "http://api.test/v1/users"},
		{"params sorted", "http://api.test", "/search", map[string]string{"q": "go", "page": "2"}, "http://api.test/search?page=2&q=go"},
		{"params escaped", "http://api.test", "/s", map[string]string{"q": "a b&c"}, "http://api.test/s?q=a+b%26c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(WithBaseURL(tt.base))
			defer client.Close()
			assert.Equal(t, tt.want, client.resolveURL(tt.path, tt.params))
		})
	}
}

func TestClientHeaderPrecedence(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t,
		WithBaseURL(server.URL),
		WithHeaders(map[string]string{"X-Client": "client", "X-Override": "client"}),
	)

	_, err := client.Get(context.Background(), "/",
		WithRequestHeaders(map[string]string{"X-Override": "request"}),
		WithRequestHeader("Content-Type", "text/plain"),
	)
	require.NoError(t, err)

	assert.Equal(t, "client", got.Get("X-Client"))
	assert.Equal(t, "request", got.Get("X-Override"))
	assert.Equal(t, "text/plain", got.Get("Content-Type"))
}

func TestClientEmptyBodySucceeds(t *testing.T) {
	server, _ := countingServer(t, http.StatusNoContent, "")
	client := newTestClient(t, WithBaseURL(server.URL))

	resp, err := client.Delete(context.Background(), "/users/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Nil(t, resp.Data)
}

func TestClientHTTPStatusError(t *testing.T) {
	server, _ := countingServer(t, http.StatusNotFound, `{"error":"missing"}`)
	client := newTestClient(t, WithBaseURL(server.URL))

	_, err := client.Get(context.Background(), "/users/7")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHTTPStatus)

	httpErr, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, "Not Found", httpErr.Code)
	assert.Equal(t, map[string]any{"error": "missing"}, httpErr.Data)
	assert.Equal(t, server.URL+"/users/7", httpErr.URL)
	require.NotNil(t, httpErr.Config)
	assert.Equal(t, http.MethodGet, httpErr.Config.Method)
}

func TestClientHTTPStatusErrorTextBody(t *testing.T) {
	server, _ := countingServer(t, http.StatusBadGateway, "upstream down")
	client := newTestClient(t, WithBaseURL(server.URL))

	_, err := client.Get(context.Background(), "/")
	httpErr, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, "upstream down", httpErr.Data)
}

func TestClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := newTestClient(t, WithBaseURL(server.URL), WithTimeout(time.Minute))

	start := time.Now()
	_, err := client.Get(context.Background(), "/slow", WithRequestTimeout(50*time.Millisecond))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestClientNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, WithBaseURL(url))

	_, err := client.Get(context.Background(), "/")
	assert.ErrorIs(t, err, ErrNetwork)
	httpErr, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.NotEmpty(t, httpErr.Code)
}

func TestClientCircuitOpensAfterThreshold(t *testing.T) {
	server, hits := countingServer(t, http.StatusInternalServerError, "")
	client := newTestClient(t,
		WithBaseURL(server.URL),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute}),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Get(ctx, "/")
		assert.ErrorIs(t, err, ErrHTTPStatus)
	}

	_, err := client.Get(ctx, "/")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
	assert.True(t, client.CircuitState().IsOpen)
}

func TestClientCircuitOptimisticReset(t *testing.T) {
	server, hits := countingServer(t, http.StatusInternalServerError, "")
	client := newTestClient(t,
		WithBaseURL(server.URL),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Second}),
	)
	clock := newFakeClock()
	client.circuitBreaker.now = clock.Now
	ctx := context.Background()

	_, _ = client.Get(ctx, "/")
	_, _ = client.Get(ctx, "/")
	_, err := client.Get(ctx, "/")
	require.ErrorIs(t, err, ErrCircuitOpen)

	clock.Advance(1100 * time.Millisecond)
	_, err = client.Get(ctx, "/")
	assert.ErrorIs(t, err, ErrHTTPStatus, "request after cooldown must reach the transport")
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestClientCacheHitSkipsTransport(t *testing.T) {
	server, hits := countingServer(t, http.StatusOK, userJSON)
	client := newTestClient(t, WithBaseURL(server.URL))
	ctx := context.Background()

	first, err := client.Get(ctx, "/users/42", WithCacheTTL(time.Minute))
	require.NoError(t, err)
	second, err := client.Get(ctx, "/users/42", WithCacheTTL(time.Minute))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	// Without a directive the cache is not consulted.
	_, err = client.Get(ctx, "/users/42")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestClientCacheTTLBoundary(t *testing.T) {
	server, hits := countingServer(t, http.StatusOK, userJSON)
	client := newTestClient(t, WithBaseURL(server.URL))
	clock := newFakeClock()
	client.cache.now = clock.Now
	ctx := context.Background()

	_, err := client.Get(ctx, "/users/42", WithCacheTTL(1000*time.Millisecond))
	require.NoError(t, err)

	clock.Advance(999 * time.Millisecond)
	_, err = client.Get(ctx, "/users/42", WithCacheTTL(1000*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	clock.Advance(2 * time.Millisecond)
	_, err = client.Get(ctx, "/users/42", WithCacheTTL(1000*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestClientConcurrentCacheMissesCoalesce(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(userJSON))
	}))
	defer server.Close()

	client := newTestClient(t, WithBaseURL(server.URL))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Get(context.Background(), "/users/42", WithCacheTTL(time.Minute))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClientSharedMissSurvivesFirstCallerCancel(t *testing.T) {
	var hits int32
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write([]byte(userJSON))
	}))
	defer server.Close()
	unblock := sync.OnceFunc(func() { close(release) })
	defer unblock()

	client := newTestClient(t, WithBaseURL(server.URL))

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := client.Get(ctxA, "/users/42", WithCacheTTL(time.Minute))
		errA <- err
	}()

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("first request never reached the server")
	}

	type result struct {
		resp *Response
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		resp, err := client.Get(context.Background(), "/users/42", WithCacheTTL(time.Minute))
		resB <- result{resp, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	unblock()
	res := <-resB
	require.NoError(t, res.err)
	assert.Equal(t, map[string]any{"id": 42.0, "name": "Ada"}, res.resp.Data)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 0, client.CircuitState().FailureCount)
}

func TestClientHeaderKeysMatchCaseInsensitively(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t,
		WithBaseURL(server.URL),
		WithHeaders(map[string]string{"x-trace": "client"}),
	)

	for i := 0; i < 20; i++ {
		resp, err := client.Get(context.Background(), "/",
			WithRequestHeader("content-type", "text/plain"),
			WithRequestHeader("X-Trace", "request"),
		)
		require.NoError(t, err)
		assert.Len(t, resp.Config.Headers, 2)
		assert.Equal(t, "text/plain", got.Get("Content-Type"))
		assert.Equal(t, "request", got.Get("X-Trace"))
	}
}

func TestClientCacheKeyOverride(t *testing.T) {
	server, hits := countingServer(t, http.StatusOK, `{}`)
	client := newTestClient(t, WithBaseURL(server.URL))
	ctx := context.Background()

	_, err := client.Get(ctx, "/a", WithCacheKey("shared", time.Minute))
	require.NoError(t, err)
	_, err = client.Get(ctx, "/b", WithCacheKey("shared", time.Minute))
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestClientCacheHitDoesNotTouchCircuit(t *testing.T) {
	server, _ := countingServer(t, http.StatusOK, `{}`)
	client := newTestClient(t,
		WithBaseURL(server.URL),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}),
	)
	ctx := context.Background()

	_, err := client.Get(ctx, "/cached", WithCacheTTL(time.Minute))
	require.NoError(t, err)

	client.circuitBreaker.RecordFailure()
	require.True(t, client.CircuitState().IsOpen)

	_, err = client.Get(ctx, "/cached", WithCacheTTL(time.Minute))
	assert.NoError(t, err, "cache is consulted before the circuit")
	_, err = client.Get(ctx, "/other")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestClientMaxConcurrent(t *testing.T) {
	var running, peak int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, WithBaseURL(server.URL), WithMaxConcurrent(2))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Get(context.Background(), "/")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestClientRateLimit(t *testing.T) {
	server, _ := countingServer(t, http.StatusOK, `{}`)
	client := newTestClient(t, WithBaseURL(server.URL), WithRateLimit(2, time.Second))

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Get(context.Background(), "/")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 1000*time.Millisecond)
}

func TestClientWithRetryPolicy(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(testUser{ID: 1, Name: "Ada"})
	}))
	defer server.Close()

	client := newTestClient(t, WithBaseURL(server.URL))
	policy := NewRetryPolicy(3, time.Millisecond)

	resp, err := Retry(context.Background(), policy, func(ctx context.Context, _ int) (*Response, error) {
		return client.Get(ctx, "/users/1")
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClientClose(t *testing.T) {
	client := New(WithBaseURL("http://example.com"))
	client.Close()

	_, err := client.Get(context.Background(), "/")
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	assert.Zero(t, client.CircuitState().FailureCount)
}
