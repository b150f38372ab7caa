package cachestore

import (
	"fmt"
	"time"
)

// Config holds the cache store configuration.
type Config struct {
	// Enabled controls whether cache steps persist to SQLite. When disabled
	// the CLI falls back to an in-memory SQLite database.
	Enabled bool `mapstructure:"enabled"`

	// DSN is the SQLite database file or URI.
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns caps the connection pool. SQLite allows one writer, so
	// the default is 1.
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// ConnMaxLifetime is the maximum time a connection may be reused (e.g. "1h").
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`

	// MaxRetries is the number of open attempts before giving up.
	MaxRetries int `mapstructure:"max_retries"`

	// InsertBatchSize is the number of rows written per INSERT statement.
	InsertBatchSize int `mapstructure:"insert_batch_size"`

	// ReadBatchSize is the page size used when streaming a dataset back.
	ReadBatchSize int `mapstructure:"read_batch_size"`

	// LogLevel is the GORM log level: silent, error, warn or info.
	LogLevel string `mapstructure:"log_level"`

	// SlowQueryThreshold is the duration above which queries are logged as slow.
	SlowQueryThreshold string `mapstructure:"slow_query_threshold"`
}

// ApplyDefaults sets defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.DSN == "" {
		c.DSN = "conduit-cache.db"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 1
	}
	if c.ConnMaxLifetime == "" {
		c.ConnMaxLifetime = "1h"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InsertBatchSize <= 0 {
		c.InsertBatchSize = 500
	}
	if c.ReadBatchSize <= 0 {
		c.ReadBatchSize = 256
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.SlowQueryThreshold == "" {
		c.SlowQueryThreshold = "200ms"
	}
}

// Validate checks that fields are present and parseable.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("cache dsn is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be > 0")
	}
	if c.InsertBatchSize <= 0 {
		return fmt.Errorf("insert_batch_size must be > 0")
	}
	if c.ReadBatchSize <= 0 {
		return fmt.Errorf("read_batch_size must be > 0")
	}
	if _, err := time.ParseDuration(c.ConnMaxLifetime); err != nil {
		return fmt.Errorf("invalid conn_max_lifetime %q: %w", c.ConnMaxLifetime, err)
	}
	if _, err := time.ParseDuration(c.SlowQueryThreshold); err != nil {
		return fmt.Errorf("invalid slow_query_threshold %q: %w", c.SlowQueryThreshold, err)
	}
	switch c.LogLevel {
	case "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}
