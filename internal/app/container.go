// Package app wires the process-wide collaborators of a job: logger, metrics collector
// and the client factory. Everything is built explicitly by NewContainer and passed down.
package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ambiyansyah-risyal/tameng"
	"github.com/ambiyansyah-risyal/tameng/config"
)

// Container holds the collaborators shared by every component of a job run.
type Container struct {
	Config  *config.Config
	Logger  tameng.Logger
	Metrics *tameng.MetricsCollector
	Clients *ClientFactory

	zap *zap.Logger
}

// ContainerOption customises NewContainer.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	zap        *zap.Logger
	registry   *prometheus.Registry
	httpClient *http.Client
}

// WithZapLogger uses logger instead of building one from the logging config.
func WithZapLogger(logger *zap.Logger) ContainerOption {
	return func(o *containerOptions) {
		o.zap = logger
	}
}

// WithRegistry registers metrics on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) ContainerOption {
	return func(o *containerOptions) {
		o.registry = registry
	}
}

// WithHTTPClient sets the transport shared by every client the factory builds.
func WithHTTPClient(client *http.Client) ContainerOption {
	return func(o *containerOptions) {
		o.httpClient = client
	}
}

// NewContainer builds the logger, then the metrics collector, then the client factory.
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}

	var o containerOptions
	for _, opt := range opts {
		opt(&o)
	}

	zl := o.zap
	if zl == nil {
		built, err := NewZap(cfg.Logging)
		if err != nil {
			return nil, err
		}
		zl = built
	}
	logger := tameng.NewZapLogger(zl)

	registry := o.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := tameng.NewMetricsCollectorWithRegistry(registry)

	return &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Clients: NewClientFactory(cfg, logger, metrics, o.httpClient),
		zap:     zl,
	}, nil
}

// Close stops every client and flushes the logger.
func (c *Container) Close() {
	c.Clients.Close()
	_ = c.zap.Sync()
}

// NewZap builds a zap logger for cfg: the production preset for "json", the development
// preset for "console".
func NewZap(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Format {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("app: unknown log format %q", cfg.Format)
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("app: parse log level: %w", err)
		}
		zc.Level = level
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("app: build logger: %w", err)
	}
	return logger, nil
}
