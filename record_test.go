package outbox

import (
	"errors"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

func validRecord() Record {
	return Record{
		ID:            uuid.New(),
		AggregateID:   "42",
		AggregateType: "User",
		EventType:     "USER_INSERT",
		Payload:       json.RawMessage(`{"id":42}`),
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
		MaxRetries:    3,
	}
}

func TestRecordValidate(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("valid record: %v", err)
	}
}

func TestRecordValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Record)
		want   error
	}{
		{"aggregate id", func(r *Record) { r.AggregateID = "" }, ErrAggregateIDRequired},
		{"aggregate type", func(r *Record) { r.AggregateType = "" }, ErrAggregateTypeRequired},
		{"event type", func(r *Record) { r.EventType = "" }, ErrEventTypeRequired},
		{"payload", func(r *Record) { r.Payload = nil }, ErrPayloadRequired},
		{"payload json", func(r *Record) { r.Payload = json.RawMessage(`{`) }, ErrInvalidPayload},
		{"changed fields json", func(r *Record) { r.ChangedFields = json.RawMessage(`no`) }, ErrInvalidChangedFields},
		{"long aggregate id", func(r *Record) { r.AggregateID = strings.Repeat("x", 256) }, ErrValueTooLong},
		{"long worker id", func(r *Record) { r.WorkerID = strings.Repeat("w", 256) }, ErrValueTooLong},
	}
	for _, tc := range cases {
		rec := validRecord()
		tc.mutate(&rec)
		if err := rec.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestRecordValidateCountsRunesNotBytes(t *testing.T) {
	rec := validRecord()
	rec.AggregateID = strings.Repeat("å", 255)
	if err := rec.Validate(); err != nil {
		t.Fatalf("255 multibyte runes should fit: %v", err)
	}
}

func TestRecordExhausted(t *testing.T) {
	rec := Record{RetryCount: 1, MaxRetries: 3}
	if rec.Exhausted() {
		t.Fatalf("attempt 2 of 3 should not exhaust the budget")
	}
	rec.RetryCount = 2
	if !rec.Exhausted() {
		t.Fatalf("attempt 3 of 3 should exhaust the budget")
	}
}

func TestParseStatus(t *testing.T) {
	for _, value := range []string{"PENDING", "SENT", "FAILED", "DEAD_LETTER"} {
		status, err := ParseStatus(value)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", value, err)
		}
		if status.String() != value {
			t.Fatalf("ParseStatus(%q) = %q", value, status)
		}
	}

	if _, err := ParseStatus("SENDING"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("err = %v, want ErrUnknownStatus", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusPending:    false,
		StatusFailed:     false,
		StatusSent:       true,
		StatusDeadLetter: true,
	} {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
