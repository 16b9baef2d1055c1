package outbox

import "time"

// Clock abstracts time so stores and engines stay deterministic in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock reads the system time in UTC. Timestamps written to
// TIMESTAMPTZ columns and envelopes are always UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
