package outbox

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Envelope is the wire form of a record as published to the bus.
type Envelope struct {
	ID            string           `json:"id"`
	AggregateID   string           `json:"aggregateId"`
	AggregateType string           `json:"aggregateType"`
	EventType     string           `json:"eventType"`
	Payload       json.RawMessage  `json:"payload"`
	ChangedFields json.RawMessage  `json:"changedFields"`
	CreatedAt     string           `json:"createdAt"`
	Metadata      EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata carries relay bookkeeping alongside the event.
type EnvelopeMetadata struct {
	WorkerID string `json:"workerId"`
	Version  int64  `json:"version"`
}

// NewEnvelope builds the wire form of rec as published by workerID.
// ChangedFields stays null for records captured without a diff.
func NewEnvelope(rec *Record, workerID string) Envelope {
	changed := rec.ChangedFields
	if len(changed) == 0 {
		changed = nil
	}

	return Envelope{
		ID:            rec.ID.String(),
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		EventType:     rec.EventType,
		Payload:       rec.Payload,
		ChangedFields: changed,
		CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		Metadata:      EnvelopeMetadata{WorkerID: workerID, Version: rec.Version},
	}
}

// Encode serializes the envelope as UTF-8 JSON.
func (e Envelope) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("outbox encode envelope: %w", err)
	}

	return raw, nil
}

// TopicFor returns the bus destination for an aggregate type, built as
// "<prefix>.<lowercased aggregate type>".
func TopicFor(prefix, aggregateType string) string {
	return prefix + "." + strings.ToLower(aggregateType)
}
