package outbox

import (
	"errors"
	"testing"
)

type user struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func TestRegisterDefaults(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(user{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	reg, ok := r.lookup(&user{})
	if !ok {
		t.Fatalf("pointer lookup should find the value registration")
	}
	if reg.aggregateType != "user" {
		t.Fatalf("aggregateType = %q, want %q", reg.aggregateType, "user")
	}
	if reg.eventType != "" {
		t.Fatalf("eventType = %q, want derived", reg.eventType)
	}
	if !reg.changedFields {
		t.Fatalf("changedFields should default to enabled")
	}
	if reg.maxRetries != 3 {
		t.Fatalf("maxRetries = %d, want 3", reg.maxRetries)
	}
}

func TestRegisterPointerMatchesValue(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&user{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !r.Registered(user{}) {
		t.Fatalf("value lookup should find the pointer registration")
	}
	if r.Registered(42) {
		t.Fatalf("non-struct must never be registered")
	}
}

func TestRegisterOptions(t *testing.T) {
	r := NewRegistry()
	err := r.Register(user{},
		WithAggregateType("Account"),
		WithEventType("ACCOUNT_CHANGED"),
		WithChangedFields(false),
		WithMaxRetries(5),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	reg, _ := r.lookup(user{})
	if reg.aggregateType != "Account" {
		t.Fatalf("aggregateType = %q", reg.aggregateType)
	}
	if reg.eventType != "ACCOUNT_CHANGED" {
		t.Fatalf("eventType = %q", reg.eventType)
	}
	if reg.changedFields {
		t.Fatalf("changedFields should be disabled")
	}
	if reg.maxRetries != 5 {
		t.Fatalf("maxRetries = %d, want 5", reg.maxRetries)
	}
}

func TestRegisterMaxRetriesGuard(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(user{}, WithMaxRetries(0)); err != nil {
		t.Fatalf("register: %v", err)
	}

	reg, _ := r.lookup(user{})
	if reg.maxRetries != 3 {
		t.Fatalf("maxRetries = %d, want default 3", reg.maxRetries)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(user{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&user{}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegisterRejectsNonStruct(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); !errors.Is(err, ErrNilAggregate) {
		t.Fatalf("nil err = %v, want ErrNilAggregate", err)
	}
	if err := r.Register(42); !errors.Is(err, ErrNotStruct) {
		t.Fatalf("int err = %v, want ErrNotStruct", err)
	}
	if err := r.Register("user"); !errors.Is(err, ErrNotStruct) {
		t.Fatalf("string err = %v, want ErrNotStruct", err)
	}
}

func TestRegisterRejectsOutboxRecord(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Record{}); !errors.Is(err, ErrRecordNotTrackable) {
		t.Fatalf("err = %v, want ErrRecordNotTrackable", err)
	}
	if err := r.Register(&Record{}); !errors.Is(err, ErrRecordNotTrackable) {
		t.Fatalf("pointer err = %v, want ErrRecordNotTrackable", err)
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(user{})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	r.MustRegister(user{})
}
