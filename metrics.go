package outbox

import "time"

// Metrics receives outbox telemetry. Implementations map the calls onto the
// instrument names below; the otelobs package provides an OpenTelemetry
// binding and NopMetrics discards everything.
//
// Counters:
//
//	outbox.messages.created   {entity_type, event_type}
//	outbox.messages.processed {entity_type, status}
//	outbox.creation.failures  {entity_type}
//	outbox.relay.polling
//
// Gauges:
//
//	outbox.messages.pending
//	outbox.messages.failed
//	outbox.messages.dead_letter
//
// Timer:
//
//	outbox.processing.time {entity_type}, seconds
type Metrics interface {
	// RecordCreated counts one captured record.
	RecordCreated(entityType, eventType string)
	// CreationFailure counts one capture failure.
	CreationFailure(entityType string)
	// RecordProcessed counts one relay outcome for a record.
	RecordProcessed(entityType string, status Status)
	// PollCycle counts one relay poll pass.
	PollCycle()
	// ObserveProcessingTime records the publish latency for one record.
	ObserveProcessingTime(entityType string, d time.Duration)
	// SetPending updates the pending queue depth.
	SetPending(count int64)
	// SetFailed updates the failed queue depth.
	SetFailed(count int64)
	// SetDeadLetter updates the dead-letter queue depth.
	SetDeadLetter(count int64)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// RecordCreated implements Metrics.
func (NopMetrics) RecordCreated(string, string) {}

// CreationFailure implements Metrics.
func (NopMetrics) CreationFailure(string) {}

// RecordProcessed implements Metrics.
func (NopMetrics) RecordProcessed(string, Status) {}

// PollCycle implements Metrics.
func (NopMetrics) PollCycle() {}

// ObserveProcessingTime implements Metrics.
func (NopMetrics) ObserveProcessingTime(string, time.Duration) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int64) {}

// SetFailed implements Metrics.
func (NopMetrics) SetFailed(int64) {}

// SetDeadLetter implements Metrics.
func (NopMetrics) SetDeadLetter(int64) {}
