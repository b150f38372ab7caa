package httpfetch

import (
	"time"

	"github.com/kbukum/conduit/resilience"
	"github.com/kbukum/conduit/validation"
	"github.com/kbukum/conduit/version"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 4 << 20
)

// Config configures the fetch client used by crawl steps.
type Config struct {
	// Timeout bounds a single request including reading the body.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// MaxBodyBytes caps the response body kept per page.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"gte=0"`

	// UserAgent is sent with every request. It defaults to conduit/<version>.
	UserAgent string `mapstructure:"user_agent"`

	// Headers are added to every request.
	Headers map[string]string `mapstructure:"headers"`

	// RequestsPerSecond is a process-wide politeness limit across all crawl
	// steps sharing the client. 0 disables it.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`

	// Burst is the token bucket size for RequestsPerSecond.
	Burst int `mapstructure:"burst" validate:"gte=0"`

	// Retry configures retries of transport failures and 429/5xx responses.
	// MaxAttempts <= 1 disables retrying.
	Retry resilience.RetryConfig `mapstructure:"retry"`

	// CircuitBreaker opens after repeated transport failures. Nil disables it.
	CircuitBreaker *resilience.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = version.UserAgent()
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = resilience.DefaultRetryConfig()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.Validate(c)
}
