// Package config loads the subsetd configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/rs/zerolog"

	"github.com/modisviirs/subsetd/internal/provider/resilience"
	"github.com/modisviirs/subsetd/internal/subset"
)

// Config holds the complete application configuration.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`

	Server    ServerConfig    `envPrefix:"SERVER_"`
	Subset    SubsetConfig    `envPrefix:"SUBSET_"`
	Transport TransportConfig `envPrefix:"TRANSPORT_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
	Logging   LoggingConfig   `envPrefix:"LOG_"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"5m"` // long ranges take many upstream round trips
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RateLimit       int           `env:"RATE_LIMIT" envDefault:"60"` // subset requests per minute per client IP
	RequireTLS      bool          `env:"REQUIRE_TLS" envDefault:"false"`
}

// SubsetConfig configures the subset service.
type SubsetConfig struct {
	BaseEndpoint string  `env:"BASE_ENDPOINT" envDefault:"https://modis.ornl.gov/rst/api/"`
	APIVersion   string  `env:"API_VERSION" envDefault:"v1"`
	ChunkSize    int     `env:"CHUNK_SIZE" envDefault:"10"`
	FillValue    float64 `env:"FILL_VALUE" envDefault:"NaN"`
	UserAgent    string  `env:"USER_AGENT" envDefault:"subsetd/1.0"`
}

// TransportConfig configures retries and the circuit breaker for upstream calls.
type TransportConfig struct {
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxRetries      uint64        `env:"MAX_RETRIES" envDefault:"3"`
	InitialInterval time.Duration `env:"INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     time.Duration `env:"MAX_INTERVAL" envDefault:"10s"`
	BreakerTimeout  time.Duration `env:"BREAKER_TIMEOUT" envDefault:"60s"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Endpoint string `env:"EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables and validates it.
func Load() (*Config, error) {
	return load(env.Options{RequiredIfNoDef: true})
}

// LoadFrom parses configuration from the given variables instead of the process environment.
func LoadFrom(environment map[string]string) (*Config, error) {
	return load(env.Options{RequiredIfNoDef: true, Environment: environment})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("server rate limit must be at least 1, got %d", c.Server.RateLimit)
	}

	u, err := url.Parse(c.Subset.BaseEndpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("subset base endpoint must be an absolute URL, got %q", c.Subset.BaseEndpoint)
	}
	if c.Subset.APIVersion == "" {
		return fmt.Errorf("subset API version is required")
	}
	if c.Subset.ChunkSize < 1 {
		return fmt.Errorf("subset chunk size must be at least 1, got %d", c.Subset.ChunkSize)
	}

	if c.Transport.Timeout <= 0 {
		return fmt.Errorf("transport timeout must be positive, got %s", c.Transport.Timeout)
	}
	if c.Transport.InitialInterval <= 0 || c.Transport.MaxInterval < c.Transport.InitialInterval {
		return fmt.Errorf("transport backoff intervals invalid: initial %s, max %s",
			c.Transport.InitialInterval, c.Transport.MaxInterval)
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil || c.Logging.Level == "" {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Logging.Format)
	}

	return nil
}

// Address returns the server listen address in the format "host:port".
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ServiceConfig converts the subset settings for subset.NewService.
func (s SubsetConfig) ServiceConfig() subset.Config {
	return subset.Config{
		ChunkSize:    s.ChunkSize,
		FillValue:    subset.Fill(s.FillValue),
		BaseEndpoint: s.BaseEndpoint,
		APIVersion:   s.APIVersion,
	}
}

// ClientConfig converts the transport settings for the named resilient client.
func (t TransportConfig) ClientConfig(name string) resilience.ClientConfig {
	cfg := resilience.DefaultClientConfig(name)
	cfg.Timeout = t.Timeout
	cfg.MaxRetries = t.MaxRetries
	cfg.InitialInterval = t.InitialInterval
	cfg.MaxInterval = t.MaxInterval
	cfg.CircuitBreaker.Timeout = t.BreakerTimeout
	return cfg
}
