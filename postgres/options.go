package postgres

import "github.com/relaywire/outbox"

const (
	defaultTable      = "outbox_messages"
	defaultMaxRetries = 3
)

// Config defines PostgreSQL store behavior.
type Config struct {
	Table string
	Clock outbox.Clock
	IDs   outbox.IDGenerator
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Clock == nil {
		c.Clock = outbox.SystemClock{}
	}
	if c.IDs == nil {
		c.IDs = outbox.RandomIDGenerator{}
	}

	return c
}

// Option configures the PostgreSQL store.
type Option func(*Config)

// WithTable sets the outbox table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock outbox.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithIDGenerator sets the generator used when appended records carry no id.
func WithIDGenerator(gen outbox.IDGenerator) Option {
	return func(c *Config) {
		c.IDs = gen
	}
}
