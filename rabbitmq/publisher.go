package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaywire/outbox"
)

// partitionKeyHeader carries the bus partition key, since AMQP messages have
// no Kafka-style key of their own.
const partitionKeyHeader = "partitionKey"

// Publisher is an outbox.Bus backed by a RabbitMQ topic exchange with
// publisher confirms. Safe for concurrent use; one long-lived Publisher
// serves the whole relay process.
type Publisher struct {
	url string
	cfg Config

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ outbox.Bus = (*Publisher)(nil)

// NewPublisher dials url, declares the exchange, enables confirms, and starts
// the background reconnect monitor. Close releases the connection.
func NewPublisher(url string, opts ...Option) (*Publisher, error) {
	if url == "" {
		return nil, ErrURLRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	p := &Publisher{
		url:    url,
		cfg:    cfg,
		closed: make(chan struct{}),
	}

	conn, channel, err := p.connect()
	if err != nil {
		return nil, err
	}
	p.conn = conn
	p.channel = channel

	p.wg.Add(1)
	go p.monitor()

	return p, nil
}

// Publish implements outbox.Bus. The topic becomes the routing key on the
// configured exchange; key is attached as the partitionKey header and message
// id. Publish blocks until the broker acks, the confirm times out, or ctx is
// done.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	p.mu.RLock()
	channel := p.channel
	p.mu.RUnlock()
	if channel == nil {
		return ErrNotConnected
	}

	deferred, err := channel.PublishWithDeferredConfirmWithContext(
		ctx,
		p.cfg.Exchange,
		topic,
		false,
		false,
		amqp.Publishing{
			Headers:      amqp.Table{partitionKeyHeader: key},
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    key,
			Timestamp:    time.Now().UTC(),
			Body:         value,
		},
	)
	if err != nil {
		return fmt.Errorf("outbox rabbitmq: publish to %s failed: %w", topic, err)
	}

	confirmTimer := time.NewTimer(p.cfg.ConfirmTimeout)
	defer confirmTimer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return ErrNack
		}

		return nil
	case <-confirmTimer.C:
		return ErrConfirmTimeout
	}
}

// Close shuts the publisher down. In-flight confirms are abandoned; the relay
// re-publishes any record it could not settle.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)

		p.mu.Lock()
		conn := p.conn
		p.conn = nil
		p.channel = nil
		p.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
	})
	p.wg.Wait()

	return nil
}

// connect dials the broker and prepares a confirm-mode channel on the topic
// exchange.
func (p *Publisher) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, fmt.Errorf("outbox rabbitmq: dial failed: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("outbox rabbitmq: open channel failed: %w", err)
	}

	if !p.cfg.SkipExchangeDeclare {
		if err := channel.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			_ = conn.Close()

			return nil, nil, fmt.Errorf("outbox rabbitmq: declare exchange %s failed: %w", p.cfg.Exchange, err)
		}
	}

	if err := channel.Confirm(false); err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("outbox rabbitmq: enable confirms failed: %w", err)
	}

	return conn, channel, nil
}

// monitor watches the live connection and redials after a drop. While the
// redial is in progress Publish fails with ErrNotConnected, which the relay
// treats as a transient per-record failure.
func (p *Publisher) monitor() {
	defer p.wg.Done()

	for {
		p.mu.RLock()
		conn, channel := p.conn, p.channel
		p.mu.RUnlock()
		if conn == nil || channel == nil {
			return
		}

		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chanClosed := channel.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-p.closed:
			return
		case err := <-connClosed:
			p.cfg.Logger.Warn("outbox rabbitmq connection closed", "error", err)
		case err := <-chanClosed:
			p.cfg.Logger.Warn("outbox rabbitmq channel closed", "error", err)
		}

		p.mu.Lock()
		p.conn = nil
		p.channel = nil
		p.mu.Unlock()
		_ = conn.Close()

		if !p.redial() {
			return
		}
	}
}

// redial reconnects with exponential backoff until it succeeds or the
// publisher is closed.
func (p *Publisher) redial() bool {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = defaultInitialRedialBackoff
	backoffCfg.MaxInterval = p.cfg.MaxRedialInterval

	for {
		select {
		case <-p.closed:
			return false
		default:
		}

		conn, channel, err := p.connect()
		if err == nil {
			p.mu.Lock()
			p.conn = conn
			p.channel = channel
			p.mu.Unlock()
			p.cfg.Logger.Info("outbox rabbitmq reconnected", "exchange", p.cfg.Exchange)

			return true
		}

		sleep := backoffCfg.NextBackOff()
		p.cfg.Logger.Warn("outbox rabbitmq redial failed", "error", err, "retry_in", sleep)

		timer := time.NewTimer(sleep)
		select {
		case <-p.closed:
			timer.Stop()

			return false
		case <-timer.C:
		}
	}
}
