package rabbitmq

import "errors"

var (
	// ErrURLRequired is returned when a publisher is built without a broker URL.
	ErrURLRequired = errors.New("outbox rabbitmq: url is required")
	// ErrClosed is returned when publishing through a closed publisher.
	ErrClosed = errors.New("outbox rabbitmq: publisher is closed")
	// ErrNotConnected is returned while the broker connection is down and being redialed.
	ErrNotConnected = errors.New("outbox rabbitmq: broker connection is down")
	// ErrNack is returned when the broker refused to persist a message.
	ErrNack = errors.New("outbox rabbitmq: broker rejected the message")
	// ErrConfirmTimeout is returned when the broker did not confirm a message in time.
	ErrConfirmTimeout = errors.New("outbox rabbitmq: publisher confirm timed out")
)
