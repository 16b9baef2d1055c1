package outbox

import "fmt"

// Status represents the lifecycle state of an outbox record.
type Status string

const (
	// StatusPending indicates the record is awaiting publication.
	StatusPending Status = "PENDING"
	// StatusSent indicates the record was published and acknowledged.
	StatusSent Status = "SENT"
	// StatusFailed indicates the last publish attempt failed.
	StatusFailed Status = "FAILED"
	// StatusDeadLetter indicates the record exhausted its retry budget.
	StatusDeadLetter Status = "DEAD_LETTER"
)

// Terminal reports whether the relay may no longer transition the record.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDeadLetter
}

// String returns the stored representation of the status.
func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a stored status value into a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusPending, StatusSent, StatusFailed, StatusDeadLetter:
		return Status(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, value)
	}
}
