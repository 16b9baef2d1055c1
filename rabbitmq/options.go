package rabbitmq

import (
	"time"

	"github.com/relaywire/outbox"
)

// Defaults applied by withDefaults when an option is unset.
const (
	DefaultExchange             = "outbox"
	DefaultConfirmTimeout       = 10 * time.Second
	DefaultMaxRedialInterval    = 30 * time.Second
	defaultInitialRedialBackoff = 500 * time.Millisecond
)

// Config defines how the publisher connects and confirms.
type Config struct {
	// Exchange is the durable topic exchange messages are published to.
	Exchange string
	// SkipExchangeDeclare leaves exchange topology to the operator.
	SkipExchangeDeclare bool
	// ConfirmTimeout bounds the wait for a broker confirm per message.
	ConfirmTimeout time.Duration
	// MaxRedialInterval caps the backoff between reconnect attempts.
	MaxRedialInterval time.Duration
	// Logger receives connection lifecycle events.
	Logger outbox.Logger
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.MaxRedialInterval <= 0 {
		c.MaxRedialInterval = DefaultMaxRedialInterval
	}
	if c.Logger == nil {
		c.Logger = outbox.NopLogger{}
	}

	return c
}

// Option configures the publisher.
type Option func(*Config)

// WithExchange sets the topic exchange name.
func WithExchange(name string) Option {
	return func(c *Config) {
		c.Exchange = name
	}
}

// WithoutExchangeDeclare skips declaring the exchange on connect; use it when
// topology is managed outside the application.
func WithoutExchangeDeclare() Option {
	return func(c *Config) {
		c.SkipExchangeDeclare = true
	}
}

// WithConfirmTimeout bounds the wait for a publisher confirm.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ConfirmTimeout = timeout
	}
}

// WithMaxRedialInterval caps the reconnect backoff.
func WithMaxRedialInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.MaxRedialInterval = interval
	}
}

// WithLogger sets the publisher logger.
func WithLogger(logger outbox.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
