package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaywire/outbox/internal/cron"
)

const (
	pollSpanName   = "outbox.relay.process"
	recordSpanName = "outbox.relay.process_message"

	releaseTimeout = 5 * time.Second
)

// Relay moves committed outbox records to the bus. It runs two recurrent
// tasks: poll, on a fixed delay, leases pending records and publishes them
// one by one; prune, on a cron schedule, deletes old SENT records. Multiple
// relays may share one table; the version guard on every store mutation is
// the only coordination between them.
type Relay struct {
	store Store
	bus   Bus
	cfg   RelayConfig
	prune *cron.Schedule

	gaugeMu sync.Mutex
	gaugeAt time.Time
}

// NewRelay builds a Relay over store and bus with defaults and optional
// settings.
func NewRelay(store Store, bus Bus, opts ...RelayOption) (*Relay, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if bus == nil {
		return nil, ErrBusRequired
	}

	var cfg RelayConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	r := &Relay{store: store, bus: bus, cfg: cfg}
	if !cfg.CleanupDisabled {
		schedule, err := cron.Parse(cfg.CleanupSchedule)
		if err != nil {
			return nil, fmt.Errorf("outbox cleanup schedule: %w", err)
		}
		r.prune = schedule
	}

	return r, nil
}

// WorkerID returns the relay's worker identity.
func (r *Relay) WorkerID() string {
	return r.cfg.WorkerID
}

// Run starts the poll and prune loops and blocks until ctx is canceled or a
// loop panics. Per-record and per-pass failures are logged and retried on
// the next cycle, never returned. On the way out the relay finishes the
// in-flight record and releases its remaining leases so another worker can
// take them over.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer r.recoverLoop(errCh, cancel, "poll")

		if err := r.pollLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			cancel()
		}
	}()

	if r.prune != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.recoverLoop(errCh, cancel, "prune")

			if err := r.pruneLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	r.releaseClaims()

	if err := <-errCh; err != nil {
		return err
	}

	return nil
}

func (r *Relay) recoverLoop(errCh chan<- error, cancel context.CancelFunc, loop string) {
	if rec := recover(); rec != nil {
		r.cfg.Logger.Error("outbox relay panic", "loop", loop, "panic", rec)
		errCh <- fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
		cancel()
	}
}

func (r *Relay) pollLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := r.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.cfg.Logger.Error("outbox poll failed", "worker_id", r.cfg.WorkerID, "error", err)
		}

		if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (r *Relay) pruneLoop(ctx context.Context) error {
	for {
		now := r.cfg.Clock.Now()
		next, err := r.prune.Next(now)
		if err != nil {
			r.cfg.Logger.Error("outbox cleanup schedule has no fire time; pruning stopped", "error", err)

			return nil
		}

		if err := r.sleep(ctx, next.Sub(now)); err != nil {
			return err
		}

		if _, err := r.PruneOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.cfg.Logger.Error("outbox prune failed", "error", err)
		}
	}
}

// ProcessOnce runs a single poll pass: lease up to the batch size, claim
// and publish each record in created_at order, refresh the queue gauges.
// It returns the number of leased records.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	r.cfg.Metrics.PollCycle()

	ctx, span := r.cfg.Tracer.Start(ctx, pollSpanName, trace.WithAttributes(
		attribute.String("worker_id", r.cfg.WorkerID),
	))
	defer span.End()

	batch, err := r.store.LeasePending(ctx, r.cfg.WorkerID, r.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lease failed")

		return 0, fmt.Errorf("outbox lease pending: %w", err)
	}
	span.SetAttributes(attribute.Int("batch_size", len(batch)))

	if len(batch) == 0 {
		r.maybeRefreshGauges(ctx)

		return 0, nil
	}

	for i := range batch {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		r.processRecord(ctx, &batch[i])
	}

	r.refreshGauges(ctx)

	return len(batch), nil
}

// PruneOnce deletes SENT records processed before the retention cutoff and
// returns the number deleted. DEAD_LETTER records are never touched.
func (r *Relay) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := r.cfg.Clock.Now().Add(-r.cfg.Retention)
	deleted, err := r.store.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox prune: %w", err)
	}
	if deleted > 0 {
		r.cfg.Logger.Info("outbox pruned sent records", "deleted", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}

// processRecord claims, publishes, and settles one record. The record
// finishes its publish and status write even when shutdown cancels the
// poll context mid-batch.
func (r *Relay) processRecord(ctx context.Context, rec *Record) {
	ctx = context.WithoutCancel(ctx)

	ctx, span := r.cfg.Tracer.Start(ctx, recordSpanName, trace.WithAttributes(
		attribute.String("record_id", rec.ID.String()),
		attribute.String("entity_type", rec.AggregateType),
		attribute.String("event_type", rec.EventType),
		attribute.String("worker_id", r.cfg.WorkerID),
	))
	defer span.End()

	claimed, err := r.store.Claim(ctx, rec, r.cfg.WorkerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		r.cfg.Logger.Error("outbox claim failed", "record_id", rec.ID, "error", err)

		return
	}
	if !claimed {
		// Another worker moved the record first; it is theirs now.
		span.AddEvent("lost claim race")

		return
	}

	start := time.Now()
	err = r.publish(ctx, TopicFor(r.cfg.TopicPrefix, rec.AggregateType), rec.AggregateID, rec)
	r.cfg.Metrics.ObserveProcessingTime(rec.AggregateType, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		r.failRecord(ctx, rec, err)

		return
	}

	sent, err := r.store.MarkSent(ctx, rec)
	if err != nil {
		r.cfg.Logger.Error("outbox mark sent failed", "record_id", rec.ID, "error", err)

		return
	}
	if sent {
		r.cfg.Metrics.RecordProcessed(rec.AggregateType, StatusSent)
		r.cfg.Logger.Debug("outbox record sent",
			"record_id", rec.ID, "event_type", rec.EventType, "worker_id", r.cfg.WorkerID)
	}
}

func (r *Relay) publish(ctx context.Context, topic, key string, rec *Record) error {
	value, err := NewEnvelope(rec, r.cfg.WorkerID).Encode()
	if err != nil {
		return err
	}

	if r.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.PublishTimeout)
		defer cancel()
	}
	if err := r.bus.Publish(ctx, topic, key, value); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	return nil
}

func (r *Relay) failRecord(ctx context.Context, rec *Record, cause error) {
	r.cfg.Logger.Warn("outbox publish failed",
		"record_id", rec.ID, "retry_count", rec.RetryCount, "error", cause)

	failed, err := r.store.MarkFailed(ctx, rec, cause)
	if err != nil {
		r.cfg.Logger.Error("outbox mark failed errored", "record_id", rec.ID, "error", err)

		return
	}
	if !failed {
		return
	}

	if rec.Status != StatusDeadLetter {
		r.cfg.Metrics.RecordProcessed(rec.AggregateType, StatusFailed)

		return
	}

	r.cfg.Metrics.RecordProcessed(rec.AggregateType, StatusDeadLetter)
	r.cfg.Logger.Error("outbox record dead-lettered",
		"record_id", rec.ID, "event_type", rec.EventType, "retry_count", rec.RetryCount, "error", cause)
	r.mirrorToDeadLetter(ctx, rec)
}

// mirrorToDeadLetter publishes the exhausted record to the dead-letter
// topic keyed by record id. Best effort; a failure is logged, the table
// keeps the authoritative copy.
func (r *Relay) mirrorToDeadLetter(ctx context.Context, rec *Record) {
	if err := r.publish(ctx, r.cfg.DeadLetterTopic, rec.ID.String(), rec); err != nil {
		r.cfg.Logger.Error("outbox dead-letter publish failed", "record_id", rec.ID, "error", err)
	}
}

func (r *Relay) refreshGauges(ctx context.Context) {
	r.gaugeMu.Lock()
	r.gaugeAt = r.cfg.Clock.Now()
	r.gaugeMu.Unlock()

	gauges := []struct {
		status Status
		set    func(int64)
	}{
		{StatusPending, r.cfg.Metrics.SetPending},
		{StatusFailed, r.cfg.Metrics.SetFailed},
		{StatusDeadLetter, r.cfg.Metrics.SetDeadLetter},
	}
	for _, g := range gauges {
		count, err := r.store.CountByStatus(ctx, g.status)
		if err != nil {
			r.cfg.Logger.Warn("outbox status count failed", "status", g.status, "error", err)

			return
		}
		g.set(count)
	}
}

// maybeRefreshGauges refreshes the queue gauges on idle passes, at most
// once per GaugeInterval so an idle relay is not all COUNT queries.
func (r *Relay) maybeRefreshGauges(ctx context.Context) {
	if r.cfg.GaugeInterval <= 0 {
		return
	}

	now := r.cfg.Clock.Now()
	r.gaugeMu.Lock()
	throttled := !r.gaugeAt.IsZero() && now.Before(r.gaugeAt.Add(r.cfg.GaugeInterval))
	r.gaugeMu.Unlock()
	if throttled {
		return
	}

	r.refreshGauges(ctx)
}

func (r *Relay) releaseClaims() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	released, err := r.store.ReleaseClaims(ctx, r.cfg.WorkerID)
	if err != nil {
		r.cfg.Logger.Warn("outbox release claims failed", "worker_id", r.cfg.WorkerID, "error", err)

		return
	}
	if released > 0 {
		r.cfg.Logger.Info("outbox released claims", "worker_id", r.cfg.WorkerID, "count", released)
	}
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
