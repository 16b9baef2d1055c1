package outbox

import (
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// maxIdentifierLen bounds aggregate_id, aggregate_type, event_type, and
// worker_id, matching the VARCHAR(255) columns.
const maxIdentifierLen = 255

// Record is one row of the outbox_messages table: a domain event captured in
// the same transaction as the write that caused it.
type Record struct {
	// ID is the primary key, assigned at creation.
	ID uuid.UUID
	// AggregateID identifies the source aggregate and keys the bus partition.
	AggregateID string
	// AggregateType is the logical type name (defaults to the Go type name).
	AggregateType string
	// EventType names the event (defaults to <TYPE>_INSERT or <TYPE>_UPDATE).
	EventType string
	// Payload is the JSON projection of the aggregate at commit time.
	Payload json.RawMessage
	// ChangedFields maps mutated fields to their old and new values on
	// updates with diff tracking; nil otherwise.
	ChangedFields json.RawMessage
	// Status is the lifecycle state, PENDING at creation.
	Status Status
	// CreatedAt is the creation instant and the canonical ordering key.
	CreatedAt time.Time
	// ProcessedAt is set on the terminal transition to SENT or DEAD_LETTER.
	ProcessedAt *time.Time
	// RetryCount is the number of completed publish attempts that failed.
	RetryCount int
	// MaxRetries is the failure budget before dead-lettering.
	MaxRetries int
	// ErrorMessage describes the last failure; cleared on success.
	ErrorMessage string
	// WorkerID identifies the worker currently leasing this record.
	WorkerID string
	// Version is the optimistic-concurrency counter, bumped on every
	// mutating write.
	Version int64
}

// FieldChange holds the before and after values of one mutated field.
type FieldChange struct {
	OldValue any `json:"oldValue"`
	NewValue any `json:"newValue"`
}

// Validate checks required fields, column limits, and JSON validity.
func (r Record) Validate() error {
	if r.AggregateID == "" {
		return ErrAggregateIDRequired
	}
	if r.AggregateType == "" {
		return ErrAggregateTypeRequired
	}
	if r.EventType == "" {
		return ErrEventTypeRequired
	}
	for _, v := range []string{r.AggregateID, r.AggregateType, r.EventType, r.WorkerID} {
		if utf8.RuneCountInString(v) > maxIdentifierLen {
			return ErrValueTooLong
		}
	}
	if len(r.Payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(r.Payload) {
		return ErrInvalidPayload
	}
	if len(r.ChangedFields) > 0 && !json.Valid(r.ChangedFields) {
		return ErrInvalidChangedFields
	}

	return nil
}

// Exhausted reports whether one more failed attempt reaches the retry budget.
func (r Record) Exhausted() bool {
	return r.RetryCount+1 >= r.MaxRetries
}
