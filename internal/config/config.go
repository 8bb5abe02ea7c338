// Package config loads the process configuration for the kra CLI and the
// kra-proxy gateway: environment variables first, then an optional YAML
// file whose keys win.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/cache"
	"github.com/BerjisTech/kra-connect-go/pkg/client"
	"github.com/BerjisTech/kra-connect-go/pkg/logging"
	"github.com/BerjisTech/kra-connect-go/pkg/ratelimit"
	"github.com/BerjisTech/kra-connect-go/pkg/retry"
	"github.com/BerjisTech/kra-connect-go/pkg/transport"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	// File names the YAML overlay. It is only read from the environment.
	File string `env:"KRA_CONFIG_FILE" yaml:"-"`

	API       APIConfig       `yaml:"api"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Log       LogConfig       `yaml:"log"`
	Proxy     ProxyConfig     `yaml:"proxy"`
}

// APIConfig specifies the KRA API endpoint and credentials.
type APIConfig struct {
	Key            string        `env:"KRA_API_KEY" yaml:"key"`
	BaseURL        string        `env:"KRA_API_BASE_URL, default=https://api.kra.go.ke/gavaconnect/v1" yaml:"base_url"`
	Timeout        time.Duration `env:"KRA_TIMEOUT, default=30s" yaml:"timeout"`
	VerifySSL      bool          `env:"KRA_VERIFY_SSL, default=true" yaml:"verify_ssl"`
	UserAgent      string        `env:"KRA_USER_AGENT" yaml:"user_agent"`
	MaxConcurrency int           `env:"KRA_MAX_CONCURRENCY, default=10" yaml:"max_concurrency"`
}

// CacheConfig specifies result caching.
type CacheConfig struct {
	Enabled bool          `env:"KRA_CACHE_ENABLED, default=true" yaml:"enabled"`
	TTL     time.Duration `env:"KRA_CACHE_TTL, default=1h" yaml:"ttl"`
	MaxSize int           `env:"KRA_CACHE_MAX_SIZE, default=1000" yaml:"max_size"`
}

// RateLimitConfig specifies client-side request admission.
type RateLimitConfig struct {
	Enabled bool `env:"KRA_RATE_LIMIT_ENABLED, default=true" yaml:"enabled"`

	// Algorithm is "token_bucket" or "sliding_window".
	Algorithm   string        `env:"KRA_RATE_LIMIT_ALGORITHM, default=token_bucket" yaml:"algorithm"`
	MaxRequests int           `env:"KRA_RATE_LIMIT_MAX_REQUESTS, default=100" yaml:"max_requests"`
	Window      time.Duration `env:"KRA_RATE_LIMIT_WINDOW, default=60s" yaml:"window"`
}

// RetryConfig specifies the backoff schedule.
type RetryConfig struct {
	MaxAttempts      int           `env:"KRA_MAX_RETRIES, default=3" yaml:"max_attempts"`
	InitialDelay     time.Duration `env:"KRA_RETRY_INITIAL_DELAY, default=1s" yaml:"initial_delay"`
	MaxDelay         time.Duration `env:"KRA_RETRY_MAX_DELAY, default=30s" yaml:"max_delay"`
	ExponentialBase  float64       `env:"KRA_RETRY_EXPONENTIAL_BASE, default=2.0" yaml:"exponential_base"`
	RetryOnTimeout   bool          `env:"KRA_RETRY_ON_TIMEOUT, default=true" yaml:"retry_on_timeout"`
	RetryOnRateLimit bool          `env:"KRA_RETRY_ON_RATE_LIMIT, default=true" yaml:"retry_on_rate_limit"`
}

// LogConfig specifies logging output.
type LogConfig struct {
	Level  string `env:"KRA_LOG_LEVEL, default=info" yaml:"level"`
	Pretty bool   `env:"KRA_LOG_PRETTY, default=false" yaml:"pretty"`
}

// ProxyConfig specifies the kra-proxy HTTP server.
type ProxyConfig struct {
	Port                   int `env:"KRA_PROXY_PORT, default=8080" yaml:"port"`
	ShutdownTimeoutSeconds int `env:"KRA_PROXY_SHUTDOWN_TIMEOUT_SECS, default=25" yaml:"shutdown_timeout_secs"`
}

// Override adjusts a loaded configuration before it is validated, e.g. to
// apply command-line flags.
type Override func(*Config)

// Load reads the configuration from the OS environment and the optional
// KRA_CONFIG_FILE overlay, then applies overrides in order.
func Load(ctx context.Context, overrides ...Override) (Config, error) {
	return load(ctx, nil, overrides...) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper, overrides ...Override) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if cfg.File != "" {
		if err := cfg.applyFile(cfg.File); err != nil {
			return cfg, err
		}
	}

	for _, override := range overrides {
		override(&cfg)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyFile overlays the YAML file at path. Keys absent from the file keep
// their environment values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.API.Key = strings.TrimSpace(c.API.Key)
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.RateLimit.Algorithm = strings.ToLower(strings.TrimSpace(c.RateLimit.Algorithm))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if c.API.Key == "" {
		return errors.New("KRA_API_KEY is required")
	}
	if err := c.Client().Transport.Validate(); err != nil {
		return err
	}
	if err := c.Client().Validate(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy port must be between 1 and 65535 (got %d)", c.Proxy.Port)
	}
	return nil
}

// Client converts the configuration into a client.Config.
func (c Config) Client() client.Config {
	tc := transport.DefaultConfig()
	tc.APIKey = c.API.Key
	tc.BaseURL = c.API.BaseURL
	tc.Timeout = c.API.Timeout
	tc.VerifySSL = c.API.VerifySSL
	if c.API.UserAgent != "" {
		tc.UserAgent = c.API.UserAgent
	}

	return client.Config{
		Transport: tc,
		Cache: cache.Config{
			Enabled: c.Cache.Enabled,
			TTL:     c.Cache.TTL,
			MaxSize: c.Cache.MaxSize,
		},
		RateLimit: ratelimit.Config{
			Enabled:     c.RateLimit.Enabled,
			Algorithm:   ratelimit.Algorithm(c.RateLimit.Algorithm),
			MaxRequests: c.RateLimit.MaxRequests,
			Window:      c.RateLimit.Window,
		},
		Retry: retry.Config{
			MaxAttempts:      c.Retry.MaxAttempts,
			InitialDelay:     c.Retry.InitialDelay,
			MaxDelay:         c.Retry.MaxDelay,
			ExponentialBase:  c.Retry.ExponentialBase,
			RetryOnTimeout:   c.Retry.RetryOnTimeout,
			RetryOnRateLimit: c.Retry.RetryOnRateLimit,
		},
		MaxConcurrency: c.API.MaxConcurrency,
	}
}

// Logging converts the configuration into a logging.Config.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}
