package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 10, cfg.Client.MaxConcurrent)
	assert.Equal(t, 0, cfg.Client.RateLimit.Requests)
	assert.Equal(t, 5, cfg.Client.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Client.CircuitBreaker.ResetTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.Backoff)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Job.DryRun)
	assert.Equal(t, "source-1", cfg.Job.SourceID)
	assert.Equal(t, "target-1", cfg.Job.TargetID)
	assert.Equal(t, "https://api.service-1.com/data", cfg.Job.ServiceURL)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://core.example.com
client:
  max_concurrent: 4
  rate_limit:
    requests: 20
    per: 2s
retry:
  backoff: 250ms
logging:
  format: console
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://core.example.com", cfg.API.BaseURL)
	assert.Equal(t, 4, cfg.Client.MaxConcurrent)
	assert.Equal(t, 20, cfg.Client.RateLimit.Requests)
	assert.Equal(t, 2*time.Second, cfg.Client.RateLimit.Per)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Backoff)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATAPREP_CLIENT_MAX_CONCURRENT", "7")
	t.Setenv("DATAPREP_RETRY_BACKOFF", "5s")
	t.Setenv("CORE_API_URL", "https://legacy.example.com")
	t.Setenv("CORE_API_KEY", "secret")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("SOURCE_ID", "src-9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Client.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Retry.Backoff)
	assert.Equal(t, "https://legacy.example.com", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.APIKey)
	assert.True(t, cfg.Job.DryRun)
	assert.Equal(t, "src-9", cfg.Job.SourceID)
}

func TestPrefixedEnvironmentBeatsLegacy(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CORE_API_URL", "https://legacy.example.com")
	t.Setenv("DATAPREP_API_BASE_URL", "https://new.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com", cfg.API.BaseURL)
}

func TestLoaderSetOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	loader := NewLoader(DefaultEnvPrefix)
	loader.SetDefaults()
	loader.Set("job.target_id", "flag-target")

	cfg := &Config{}
	require.NoError(t, loader.Load("", cfg))
	assert.Equal(t, "flag-target", cfg.Job.TargetID)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			API:     APIConfig{BaseURL: "http://localhost:3000"},
			Client:  ClientConfig{Timeout: time.Second, MaxConcurrent: 1},
			Retry:   RetryConfig{MaxAttempts: 1},
			Logging: LoggingConfig{Format: "json"},
		}
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }, "api.base_url"},
		{"zero timeout", func(c *Config) { c.Client.Timeout = 0 }, "client.timeout"},
		{"zero concurrency", func(c *Config) { c.Client.MaxConcurrent = 0 }, "client.max_concurrent"},
		{"rate limit without window", func(c *Config) { c.Client.RateLimit = RateLimitConfig{Requests: 2} }, "client.rate_limit.per"},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"unknown format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
