// Package outbox implements the transactional outbox pattern: aggregate
// writes and their event records commit in one transaction, and a polling
// relay publishes the records to a message bus afterwards.
//
// Typical flow:
//  1. Register tracked aggregate types on a Registry and call the
//     Interceptor hooks from the persistence layer, inside the business
//     transaction, with an Appender bound to that transaction.
//  2. Run a Relay over a Store and a Bus to poll committed records, claim
//     them under a version guard, and publish them in created_at order.
//  3. Failed publishes retry on later polls until the record's retry
//     budget promotes it to the dead-letter state.
//
// The postgres package implements Store on PostgreSQL; the rabbitmq
// package implements Bus on RabbitMQ publisher confirms.
package outbox
