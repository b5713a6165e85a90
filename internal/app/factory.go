package app

import (
	"net/http"
	"sync"

	"github.com/ambiyansyah-risyal/tameng"
	"github.com/ambiyansyah-risyal/tameng/config"
)

// CoreClientName is the name the core API client is cached and labelled under.
const CoreClientName = "core"

// ClientFactory builds clients on first use and hands out the same instance afterwards.
type ClientFactory struct {
	cfg        *config.Config
	logger     tameng.Logger
	metrics    *tameng.MetricsCollector
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*tameng.Client
}

// NewClientFactory returns an empty factory. A nil httpClient gives each client its own.
func NewClientFactory(cfg *config.Config, logger tameng.Logger, metrics *tameng.MetricsCollector, httpClient *http.Client) *ClientFactory {
	return &ClientFactory{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		httpClient: httpClient,
		clients:    make(map[string]*tameng.Client),
	}
}

// Get returns the client cached under name, calling build the first time. A client that
// fails validation is not cached.
func (f *ClientFactory) Get(name string, build func() *tameng.Client) (*tameng.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[name]; ok {
		return client, nil
	}

	client := build()
	if err := client.ValidationError(); err != nil {
		client.Close()
		return nil, err
	}
	f.clients[name] = client
	f.logger.Debug("client created", "client", name)
	return client, nil
}

// CoreClient returns the client for the core API. It logs, records metrics and sends the
// configured API key as a bearer token.
func (f *ClientFactory) CoreClient() (*tameng.Client, error) {
	return f.Get(CoreClientName, func() *tameng.Client {
		return tameng.New(f.coreOptions()...)
	})
}

func (f *ClientFactory) coreOptions() []tameng.Option {
	api := f.cfg.API
	cc := f.cfg.Client

	opts := []tameng.Option{
		tameng.WithName(CoreClientName),
		tameng.WithBaseURL(api.BaseURL),
		tameng.WithTimeout(cc.Timeout),
		tameng.WithMaxConcurrent(cc.MaxConcurrent),
		tameng.WithCircuitBreaker(tameng.CircuitBreakerConfig{
			FailureThreshold: cc.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cc.CircuitBreaker.ResetTimeout,
		}),
		tameng.WithLogger(f.logger),
		tameng.WithMetricsCollector(f.metrics),
		tameng.WithMiddleware(
			tameng.LoggingMiddleware(f.logger),
			tameng.MetricsMiddleware(f.metrics, f.logger),
			tameng.AuthMiddleware(tameng.StaticToken(api.APIKey)),
		),
	}
	if cc.RateLimit.Requests > 0 {
		opts = append(opts, tameng.WithRateLimit(cc.RateLimit.Requests, cc.RateLimit.Per))
	}
	if f.httpClient != nil {
		opts = append(opts, tameng.WithHTTPClient(f.httpClient))
	}
	return opts
}

// Close closes every cached client and forgets them.
func (f *ClientFactory) Close() {
	f.mu.Lock()
	clients := f.clients
	f.clients = make(map[string]*tameng.Client)
	f.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
