package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the YAML configuration consumed by `reflex run`.
type RuntimeConfig struct {
	// Database is the SQLite database path. Created if absent.
	Database string `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	// MaxAttempts bounds job redelivery. Zero means the default.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is the base requeue delay, doubled per attempt,
	// in time.ParseDuration syntax. Empty means the default.
	RetryBackoff string `yaml:"retry_backoff"`
}

// RetryBackoffDuration parses the configured backoff. Returns zero when
// unset.
func (c *RuntimeConfig) RetryBackoffDuration() (time.Duration, error) {
	if c.RetryBackoff == "" {
		return 0, nil
	}
	return time.ParseDuration(c.RetryBackoff)
}

// LoadRuntimeConfig reads and validates a YAML runtime configuration.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &RuntimeConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database == "" {
		return nil, fmt.Errorf("config: database path is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("config: redis.addr is required")
	}
	if _, err := cfg.RetryBackoffDuration(); err != nil {
		return nil, fmt.Errorf("config: retry_backoff: %w", err)
	}
	return cfg, nil
}
