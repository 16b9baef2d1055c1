package outbox

import (
	"errors"
	"fmt"
)

var (
	// ErrAggregateIDRequired is returned when no aggregate identifier could be resolved.
	ErrAggregateIDRequired = errors.New("outbox aggregate id is required")
	// ErrAggregateTypeRequired is returned when Record.AggregateType is empty.
	ErrAggregateTypeRequired = errors.New("outbox aggregate type is required")
	// ErrEventTypeRequired is returned when Record.EventType is empty.
	ErrEventTypeRequired = errors.New("outbox event type is required")
	// ErrPayloadRequired is returned when Record.Payload is empty.
	ErrPayloadRequired = errors.New("outbox payload is required")
	// ErrInvalidPayload is returned when Record.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox payload must be valid JSON")
	// ErrInvalidChangedFields is returned when Record.ChangedFields is not valid JSON.
	ErrInvalidChangedFields = errors.New("outbox changed fields must be valid JSON")
	// ErrValueTooLong is returned when an identifying column exceeds 255 characters.
	ErrValueTooLong = errors.New("outbox value exceeds column limit")
	// ErrUnknownStatus is returned when parsing an unrecognized status value.
	ErrUnknownStatus = errors.New("outbox status is unknown")
	// ErrNotRegistered is returned when interceptor metadata is requested for an untracked type.
	ErrNotRegistered = errors.New("outbox aggregate type is not registered")
	// ErrAlreadyRegistered is returned when a type is registered twice.
	ErrAlreadyRegistered = errors.New("outbox aggregate type is already registered")
	// ErrNilAggregate is returned when a hook receives a nil aggregate.
	ErrNilAggregate = errors.New("outbox aggregate is nil")
	// ErrNotStruct is returned when a registered aggregate is not a struct.
	ErrNotStruct = errors.New("outbox aggregate must be a struct or pointer to struct")
	// ErrAnonymousType is returned when a registered aggregate type has no name and no override.
	ErrAnonymousType = errors.New("outbox aggregate type name cannot be derived")
	// ErrSnapshotMismatch is returned when an update hook receives snapshots of different types.
	ErrSnapshotMismatch = errors.New("outbox update snapshots have different types")
	// ErrRecordNotTrackable rejects registering the outbox row type itself,
	// which would make the interceptor recurse on its own writes.
	ErrRecordNotTrackable = errors.New("outbox record type cannot be tracked")
	// ErrCreation marks failures that must roll back the host transaction.
	ErrCreation = errors.New("outbox record creation failed")
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("outbox batch size must be positive")
	// ErrStoreRequired is returned when an engine is built without a store.
	ErrStoreRequired = errors.New("outbox store is required")
	// ErrBusRequired is returned when an engine is built without a bus.
	ErrBusRequired = errors.New("outbox bus is required")
	// ErrWorkerPanic indicates a relay task panic.
	ErrWorkerPanic = errors.New("outbox worker panic")
)

// CreationError wraps a capture failure with the aggregate type it occurred on.
// It always matches ErrCreation via errors.Is; hosts must abort the enclosing
// transaction when a hook returns one.
type CreationError struct {
	EntityType string
	Err        error
}

// Error implements error.
func (e *CreationError) Error() string {
	return fmt.Sprintf("outbox create record for %s: %v", e.EntityType, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *CreationError) Unwrap() error {
	return e.Err
}

// Is reports ErrCreation identity in addition to the wrapped chain.
func (e *CreationError) Is(target error) bool {
	return target == ErrCreation
}

func newCreationError(entityType string, err error) *CreationError {
	return &CreationError{EntityType: entityType, Err: err}
}
