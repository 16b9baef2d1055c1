package outbox

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Defaults applied by withDefaults when an option is unset.
const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 5 * time.Second
	DefaultTopicPrefix     = "outbox.events"
	DefaultDeadLetterTopic = "outbox.dead-letter"
	DefaultCleanupSchedule = "0 2 * * *"
	DefaultRetention       = 30 * 24 * time.Hour
	defaultGaugeInterval   = time.Minute
)

// RelayConfig defines how the Relay polls, publishes, and prunes.
type RelayConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	WorkerID        string
	TopicPrefix     string
	DeadLetterTopic string
	CleanupSchedule string
	CleanupDisabled bool
	Retention       time.Duration
	PublishTimeout  time.Duration
	GaugeInterval   time.Duration
	Clock           Clock
	Logger          Logger
	Metrics         Metrics
	Tracer          trace.Tracer
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WorkerID == "" {
		c.WorkerID = NewWorkerID()
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.DeadLetterTopic == "" {
		c.DeadLetterTopic = DefaultDeadLetterTopic
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = DefaultCleanupSchedule
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.GaugeInterval == 0 {
		c.GaugeInterval = defaultGaugeInterval
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("outbox")
	}

	return c
}

// RelayOption configures Relay behavior.
type RelayOption func(*RelayConfig)

// WithBatchSize sets the maximum number of records leased per poll pass.
func WithBatchSize(size int) RelayOption {
	return func(c *RelayConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the fixed delay between poll passes.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PollInterval = interval
	}
}

// WithWorkerID sets the worker identity string, preferably the container or
// pod name. Two workers must never share an ID. The default is a random
// UUID.
func WithWorkerID(id string) RelayOption {
	return func(c *RelayConfig) {
		c.WorkerID = id
	}
}

// WithTopicPrefix sets the prefix of per-aggregate bus topics.
func WithTopicPrefix(prefix string) RelayOption {
	return func(c *RelayConfig) {
		c.TopicPrefix = prefix
	}
}

// WithDeadLetterTopic sets the topic that mirrors exhausted records.
func WithDeadLetterTopic(topic string) RelayOption {
	return func(c *RelayConfig) {
		c.DeadLetterTopic = topic
	}
}

// WithCleanupSchedule sets the 5-field cron expression for pruning.
func WithCleanupSchedule(expr string) RelayOption {
	return func(c *RelayConfig) {
		c.CleanupSchedule = expr
	}
}

// WithoutCleanup disables the prune loop; use it when a separate process
// owns pruning.
func WithoutCleanup() RelayOption {
	return func(c *RelayConfig) {
		c.CleanupDisabled = true
	}
}

// WithRetention sets how long SENT records are kept before pruning.
func WithRetention(retention time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.Retention = retention
	}
}

// WithPublishTimeout bounds each publish attempt. Zero leaves the deadline
// to the bus client.
func WithPublishTimeout(timeout time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.PublishTimeout = timeout
	}
}

// WithGaugeInterval sets the minimum interval between queue-depth gauge
// refreshes on idle polls. Negative disables idle refreshes; gauges still
// refresh after every non-empty pass.
func WithGaugeInterval(interval time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.GaugeInterval = interval
	}
}

// WithClock sets the relay clock.
func WithClock(clock Clock) RelayOption {
	return func(c *RelayConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the relay logger.
func WithLogger(logger Logger) RelayOption {
	return func(c *RelayConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the relay metrics recorder.
func WithMetrics(metrics Metrics) RelayOption {
	return func(c *RelayConfig) {
		c.Metrics = metrics
	}
}

// WithTracer sets the tracer for poll and per-record spans.
func WithTracer(tracer trace.Tracer) RelayOption {
	return func(c *RelayConfig) {
		c.Tracer = tracer
	}
}
