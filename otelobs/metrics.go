package otelobs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/relaywire/outbox"
)

const scopeName = "github.com/relaywire/outbox/otelobs"

// Metrics implements outbox.Metrics on OpenTelemetry instruments. One value
// serves any number of interceptors and relays; all methods are safe for
// concurrent use.
type Metrics struct {
	created          metric.Int64Counter
	processed        metric.Int64Counter
	creationFailures metric.Int64Counter
	polling          metric.Int64Counter
	processingTime   metric.Float64Histogram
	pending          metric.Int64Gauge
	failed           metric.Int64Gauge
	deadLetter       metric.Int64Gauge
}

var _ outbox.Metrics = (*Metrics)(nil)

// New builds the outbox instrument set. A nil provider uses the global meter
// provider.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(scopeName)

	var (
		m   Metrics
		err error
	)

	m.created, err = meter.Int64Counter(
		"outbox.messages.created",
		metric.WithDescription("Number of outbox records captured alongside host transactions"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.messages.created counter: %w", err)
	}

	m.processed, err = meter.Int64Counter(
		"outbox.messages.processed",
		metric.WithDescription("Number of relay outcomes by terminal status of the attempt"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.messages.processed counter: %w", err)
	}

	m.creationFailures, err = meter.Int64Counter(
		"outbox.creation.failures",
		metric.WithDescription("Number of capture failures that rolled back host transactions"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.creation.failures counter: %w", err)
	}

	m.polling, err = meter.Int64Counter(
		"outbox.relay.polling",
		metric.WithDescription("Number of relay poll passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.relay.polling counter: %w", err)
	}

	m.processingTime, err = meter.Float64Histogram(
		"outbox.processing.time",
		metric.WithDescription("Publish latency per record"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.processing.time histogram: %w", err)
	}

	m.pending, err = meter.Int64Gauge(
		"outbox.messages.pending",
		metric.WithDescription("Records waiting to be relayed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.messages.pending gauge: %w", err)
	}

	m.failed, err = meter.Int64Gauge(
		"outbox.messages.failed",
		metric.WithDescription("Records resting in FAILED status"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.messages.failed gauge: %w", err)
	}

	m.deadLetter, err = meter.Int64Gauge(
		"outbox.messages.dead_letter",
		metric.WithDescription("Records retained after exhausting their retry budget"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.messages.dead_letter gauge: %w", err)
	}

	return &m, nil
}

// MustNew is New, panicking on instrument creation failure.
func MustNew(provider metric.MeterProvider) *Metrics {
	m, err := New(provider)
	if err != nil {
		panic(err)
	}

	return m
}

// RecordCreated implements outbox.Metrics.
func (m *Metrics) RecordCreated(entityType, eventType string) {
	m.created.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("event_type", eventType),
	))
}

// CreationFailure implements outbox.Metrics.
func (m *Metrics) CreationFailure(entityType string) {
	m.creationFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
	))
}

// RecordProcessed implements outbox.Metrics.
func (m *Metrics) RecordProcessed(entityType string, status outbox.Status) {
	m.processed.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("status", status.String()),
	))
}

// PollCycle implements outbox.Metrics.
func (m *Metrics) PollCycle() {
	m.polling.Add(context.Background(), 1)
}

// ObserveProcessingTime implements outbox.Metrics.
func (m *Metrics) ObserveProcessingTime(entityType string, d time.Duration) {
	m.processingTime.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("entity_type", entityType),
	))
}

// SetPending implements outbox.Metrics.
func (m *Metrics) SetPending(count int64) {
	m.pending.Record(context.Background(), count)
}

// SetFailed implements outbox.Metrics.
func (m *Metrics) SetFailed(count int64) {
	m.failed.Record(context.Background(), count)
}

// SetDeadLetter implements outbox.Metrics.
func (m *Metrics) SetDeadLetter(count int64) {
	m.deadLetter.Record(context.Background(), count)
}
