package outbox

import (
	"fmt"
	"reflect"
	"sync"
)

const defaultMaxRetries = 3

var recordType = reflect.TypeOf(Record{})

// IDExtractor resolves the aggregate identifier for a tracked type,
// standing in for the persistence layer's identifier lookup.
type IDExtractor func(aggregate any) (string, error)

// Projection builds the payload value for a tracked type. The result is
// serialized to JSON in place of the aggregate itself.
type Projection func(aggregate any) (any, error)

// Registry records which aggregate types are outbox-tracked and how their
// capture is configured. Lookups are lock-free; registration is expected at
// startup.
type Registry struct {
	registrations sync.Map // reflect.Type -> *registration
	idPlans       sync.Map // reflect.Type -> idPlan
}

type registration struct {
	goType        reflect.Type
	typeName      string
	aggregateType string
	eventType     string
	changedFields bool
	maxRetries    int
	extractID     IDExtractor
	project       Projection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// TrackOption configures how one aggregate type is captured.
type TrackOption func(*registration)

// WithAggregateType overrides the stored aggregate_type for the tracked type.
func WithAggregateType(name string) TrackOption {
	return func(r *registration) {
		r.aggregateType = name
	}
}

// WithEventType overrides the derived event type for both operations.
func WithEventType(name string) TrackOption {
	return func(r *registration) {
		r.eventType = name
	}
}

// WithChangedFields enables or disables field-level diff capture on updates.
// Enabled by default.
func WithChangedFields(enabled bool) TrackOption {
	return func(r *registration) {
		r.changedFields = enabled
	}
}

// WithMaxRetries sets the per-aggregate retry budget before dead-lettering.
func WithMaxRetries(retries int) TrackOption {
	return func(r *registration) {
		if retries > 0 {
			r.maxRetries = retries
		}
	}
}

// WithIDExtractor sets an explicit aggregate-identifier lookup, bypassing
// the conventional accessor and field probing.
func WithIDExtractor(fn IDExtractor) TrackOption {
	return func(r *registration) {
		r.extractID = fn
	}
}

// WithProjection sets an explicit payload projection, bypassing the
// Payloader interface and whole-aggregate serialization.
func WithProjection(fn Projection) TrackOption {
	return func(r *registration) {
		r.project = fn
	}
}

// Register tracks the aggregate's type for outbox capture. The argument is a
// specimen value; pointer and value forms register the same type.
func (r *Registry) Register(aggregate any, opts ...TrackOption) error {
	if aggregate == nil {
		return ErrNilAggregate
	}

	t, err := baseStructType(reflect.TypeOf(aggregate))
	if err != nil {
		return err
	}
	if t == recordType {
		return ErrRecordNotTrackable
	}

	reg := &registration{
		goType:        t,
		typeName:      t.Name(),
		changedFields: true,
		maxRetries:    defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.aggregateType == "" {
		reg.aggregateType = reg.typeName
	}
	if reg.aggregateType == "" {
		return ErrAnonymousType
	}

	if _, loaded := r.registrations.LoadOrStore(t, reg); loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, t)
	}

	return nil
}

// MustRegister tracks the aggregate's type or panics, for wiring at startup.
func (r *Registry) MustRegister(aggregate any, opts ...TrackOption) {
	if err := r.Register(aggregate, opts...); err != nil {
		panic(err)
	}
}

// Registered reports whether the aggregate's type is tracked.
func (r *Registry) Registered(aggregate any) bool {
	_, ok := r.lookup(aggregate)

	return ok
}

func (r *Registry) lookup(aggregate any) (*registration, bool) {
	if aggregate == nil {
		return nil, false
	}

	return r.lookupType(reflect.TypeOf(aggregate))
}

func (r *Registry) lookupType(t reflect.Type) (*registration, bool) {
	base, err := baseStructType(t)
	if err != nil {
		return nil, false
	}
	value, ok := r.registrations.Load(base)
	if !ok {
		return nil, false
	}

	return value.(*registration), true
}

func baseStructType(t reflect.Type) (reflect.Type, error) {
	if t == nil {
		return nil, ErrNilAggregate
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotStruct, t)
	}

	return t, nil
}
