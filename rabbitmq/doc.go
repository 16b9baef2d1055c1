// Package rabbitmq implements the outbox bus contract on RabbitMQ.
//
// Publisher sends envelopes to a durable topic exchange and blocks until the
// broker confirms each message, so a returned nil really means the event is
// persisted broker-side. Topics map directly to routing keys; the partition
// key travels in the message headers because AMQP has no Kafka-style key.
// A lost connection is redialed in the background with exponential backoff;
// publishes in the meantime fail fast and the relay retries them on a later
// poll.
package rabbitmq
