package outbox

import "github.com/google/uuid"

// IDGenerator creates new record identifiers.
type IDGenerator interface {
	// New returns a new identifier.
	New() (uuid.UUID, error)
}

// RandomIDGenerator produces random (version 4) UUIDs, matching the
// gen_random_uuid() column default.
type RandomIDGenerator struct{}

// New creates a new random UUID.
func (RandomIDGenerator) New() (uuid.UUID, error) {
	return uuid.NewRandom()
}

// OrderedIDGenerator produces time-ordered (version 7) UUIDs for
// installations that prefer index-friendly primary keys.
type OrderedIDGenerator struct{}

// New creates a new time-ordered UUID.
func (OrderedIDGenerator) New() (uuid.UUID, error) {
	return uuid.NewV7()
}

// NewWorkerID returns a random worker identity for processes that were not
// given a stable one.
func NewWorkerID() string {
	return uuid.NewString()
}
