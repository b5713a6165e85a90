// Package config loads data-prep job configuration from defaults, an optional YAML file
// and the environment, in increasing order of precedence.
//
// Environment variables use the DATAPREP_ prefix with underscores for nesting, e.g.
// DATAPREP_CLIENT_MAX_CONCURRENT=4. The unprefixed names CORE_API_URL, CORE_API_KEY,
// DRY_RUN, SOURCE_ID, TARGET_ID and SERVICE_URL are also honoured.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix is the environment prefix used by Load.
const DefaultEnvPrefix = "DATAPREP"

// APIConfig points at the core API.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// RateLimitConfig caps request starts per window. Requests == 0 disables it.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Per      time.Duration `mapstructure:"per"`
}

// CircuitBreakerConfig mirrors the client's breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	Timeout        time.Duration        `mapstructure:"timeout"`
	MaxConcurrent  int                  `mapstructure:"max_concurrent"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// RetryConfig configures step retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, console)
	Format string `mapstructure:"format"`
}

// JobConfig identifies what the job works on.
type JobConfig struct {
	DryRun     bool   `mapstructure:"dry_run"`
	SourceID   string `mapstructure:"source_id"`
	TargetID   string `mapstructure:"target_id"`
	ServiceURL string `mapstructure:"service_url"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the full job configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Client  ClientConfig  `mapstructure:"client"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Logging LoggingConfig `mapstructure:"logging"`
	Job     JobConfig     `mapstructure:"job"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// legacyEnv maps config keys to the unprefixed variables older deployments set.
var legacyEnv = map[string]string{
	"api.base_url":    "CORE_API_URL",
	"api.api_key":     "CORE_API_KEY",
	"job.dry_run":     "DRY_RUN",
	"job.source_id":   "SOURCE_ID",
	"job.target_id":   "TARGET_ID",
	"job.service_url": "SERVICE_URL",
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a loader reading environment variables with envPrefix.
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetDefaults sets the job defaults. It should be called before Load.
func (l *Loader) SetDefaults() {
	l.v.SetDefault("api.base_url", "http://localhost:3000")
	l.v.SetDefault("api.api_key", "")

	l.v.SetDefault("client.timeout", "30s")
	l.v.SetDefault("client.max_concurrent", 10)
	l.v.SetDefault("client.rate_limit.requests", 0)
	l.v.SetDefault("client.rate_limit.per", "1s")
	l.v.SetDefault("client.circuit_breaker.failure_threshold", 5)
	l.v.SetDefault("client.circuit_breaker.reset_timeout", "60s")

	l.v.SetDefault("retry.max_attempts", 3)
	l.v.SetDefault("retry.backoff", "1s")

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "json")

	l.v.SetDefault("job.dry_run", false)
	l.v.SetDefault("job.source_id", "source-1")
	l.v.SetDefault("job.target_id", "target-1")
	l.v.SetDefault("job.service_url", "https://api.service-1.com/data")

	l.v.SetDefault("metrics.addr", "")
}

// Set overrides a single key, taking precedence over every other source.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load reads cfgFile (if given) and the environment into target. A missing explicit
// file is an error; without one, config.yaml is looked up in . and ./configs.
func (l *Loader) Load(cfgFile string, target any) error {
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Prefixed variables are consulted before these.
	for key, env := range legacyEnv {
		if err := l.v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// Load is a convenience function that loads configuration with the job defaults.
func Load(cfgFile string) (*Config, error) {
	loader := NewLoader(DefaultEnvPrefix)
	loader.SetDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the loaded configuration.
func Validate(cfg *Config) error {
	var errs []error

	if u, err := url.Parse(cfg.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", cfg.API.BaseURL))
	}
	if cfg.Client.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("client.timeout must be positive"))
	}
	if cfg.Client.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("client.max_concurrent must be positive"))
	}
	if cfg.Client.RateLimit.Requests < 0 {
		errs = append(errs, fmt.Errorf("client.rate_limit.requests must not be negative"))
	}
	if cfg.Client.RateLimit.Requests > 0 && cfg.Client.RateLimit.Per <= 0 {
		errs = append(errs, fmt.Errorf("client.rate_limit.per must be positive"))
	}
	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}
