// Package tameng provides a resilient outbound HTTP client for batch jobs that
// call a single remote service under failure and load.
//
// Every logical request flows through the same pipeline:
//
//   - Response cache (opt-in per request, TTL based, keyed by METHOD:path by default)
//   - Circuit breaker (closed / open, optimistic reset after a cooldown)
//   - Request scheduler (bounded concurrency + fixed-window rate limit, FIFO admission)
//   - Middleware chain (pre / post / error hooks in registration order)
//   - net/http transport under a per-request timeout
//
// Retries live one level up: RetryPolicy re-invokes a whole unit of work (typically a job
// step) with exponential backoff and knows nothing about the cache or the breaker.
//
// Typical usage:
//
//	client := tameng.New(
//	    tameng.WithBaseURL("https://api.example.com"),
//	    tameng.WithMaxConcurrent(4),
//	    tameng.WithRateLimit(10, time.Second),
//	    tameng.WithCircuitBreaker(tameng.CircuitBreakerConfig{FailureThreshold: 5}),
//	    tameng.WithMiddleware(tameng.AuthMiddleware(tokenFn)),
//	)
//	defer client.Close()
//
//	resp, err := client.Get(ctx, "/users/42", tameng.WithCacheTTL(time.Minute))
//	user, err := tameng.DecodeAs[User](resp)
//
// Post and Error hooks only observe requests whose transport call returned a 2xx status;
// network failures and non-2xx responses reach the caller as *HTTPError without touching
// them.
package tameng
