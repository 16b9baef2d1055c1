package outbox

import "context"

// Bus publishes envelopes to the downstream message broker. Publish must not
// return until the broker acknowledged the message or the attempt failed;
// the relay treats any error as a failed attempt. Implementations must be
// safe for concurrent use. The rabbitmq package provides one backed by
// publisher confirms.
type Bus interface {
	// Publish sends value to topic using key for partitioning.
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// BusFunc adapts a function to Bus.
type BusFunc func(ctx context.Context, topic, key string, value []byte) error

// Publish implements Bus.
func (fn BusFunc) Publish(ctx context.Context, topic, key string, value []byte) error {
	return fn(ctx, topic, key, value)
}
