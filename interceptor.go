package outbox

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Event-type suffixes applied when no override is registered.
const (
	insertSuffix = "_INSERT"
	updateSuffix = "_UPDATE"
)

const createSpanName = "outbox.create_message"

// InterceptorConfig carries the collaborators for an Interceptor. Zero
// values get working defaults; only Appender is required.
type InterceptorConfig struct {
	// Registry holds the tracked aggregate types. Defaults to an empty
	// registry, which leaves every hook a no-op until types are registered.
	Registry *Registry
	// Appender enlists new records, normally bound to the host transaction.
	Appender Appender
	// IDs generates record identifiers. Defaults to RandomIDGenerator.
	IDs IDGenerator
	// Clock stamps created_at. Defaults to SystemClock.
	Clock Clock
	// Logger receives capture diagnostics. Defaults to NopLogger.
	Logger Logger
	// Metrics receives the creation counters. Defaults to NopMetrics.
	Metrics Metrics
	// Tracer wraps each capture in a span. Defaults to a no-op tracer.
	Tracer trace.Tracer
}

func (c InterceptorConfig) withDefaults() InterceptorConfig {
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.IDs == nil {
		c.IDs = RandomIDGenerator{}
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

// Interceptor captures tracked aggregate writes as outbox records. The host
// persistence layer calls the hooks inside its transaction, with the
// Appender bound to that same transaction, so the business write and the
// outbox record commit or roll back together. Untracked types pass through
// untouched.
type Interceptor struct {
	registry *Registry
	appender Appender
	ids      IDGenerator
	clock    Clock
	logger   Logger
	metrics  Metrics
	tracer   trace.Tracer
}

// NewInterceptor builds an Interceptor from cfg.
func NewInterceptor(cfg InterceptorConfig) (*Interceptor, error) {
	if cfg.Appender == nil {
		return nil, ErrStoreRequired
	}
	cfg = cfg.withDefaults()

	return &Interceptor{
		registry: cfg.Registry,
		appender: cfg.Appender,
		ids:      cfg.IDs,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}, nil
}

// OnInsert captures an aggregate about to be inserted. A non-nil error is a
// CreationError and the host must roll back its transaction.
func (i *Interceptor) OnInsert(ctx context.Context, aggregate any) error {
	reg, ok := i.registry.lookup(aggregate)
	if !ok {
		return nil
	}

	return i.capture(ctx, reg, aggregate, nil, insertSuffix)
}

// OnUpdate captures an aggregate about to be updated. The before snapshot
// feeds the changed-fields diff when enabled for the type; a nil before
// skips the diff but still captures the update. A non-nil error is a
// CreationError and the host must roll back its transaction.
func (i *Interceptor) OnUpdate(ctx context.Context, before, after any) error {
	reg, ok := i.registry.lookup(after)
	if !ok {
		return nil
	}

	return i.capture(ctx, reg, after, before, updateSuffix)
}

func (i *Interceptor) capture(ctx context.Context, reg *registration, aggregate, before any, suffix string) error {
	eventType := reg.eventType
	if eventType == "" {
		eventType = strings.ToUpper(reg.typeName) + suffix
	}

	ctx, span := i.tracer.Start(ctx, createSpanName, trace.WithAttributes(
		attribute.String("entity_type", reg.aggregateType),
		attribute.String("event_type", eventType),
	))
	defer span.End()

	rec, err := i.buildRecord(reg, aggregate, before, eventType)
	if err == nil {
		if err = i.appender.Append(ctx, rec); err != nil {
			err = fmt.Errorf("append record: %w", err)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		i.metrics.CreationFailure(reg.aggregateType)
		i.logger.Error("outbox capture failed",
			"entity_type", reg.aggregateType, "event_type", eventType, "error", err)

		return newCreationError(reg.aggregateType, err)
	}

	span.SetAttributes(attribute.String("record_id", rec.ID.String()))
	i.metrics.RecordCreated(reg.aggregateType, eventType)
	i.logger.Debug("outbox record captured",
		"entity_type", reg.aggregateType, "event_type", eventType, "record_id", rec.ID.String())

	return nil
}

func (i *Interceptor) buildRecord(reg *registration, aggregate, before any, eventType string) (*Record, error) {
	id, err := i.ids.New()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	aggregateID, err := i.registry.aggregateID(reg, aggregate)
	if err != nil {
		return nil, err
	}
	payload, err := buildPayload(reg, aggregate)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: reg.aggregateType,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     i.clock.Now(),
		MaxRetries:    reg.maxRetries,
	}
	if reg.changedFields && before != nil {
		changes, err := diffSnapshots(before, aggregate)
		if err != nil {
			return nil, err
		}
		rec.ChangedFields, err = encodeChanges(changes)
		if err != nil {
			return nil, err
		}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return rec, nil
}
