package outbox

import (
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
)

// Payloader lets an aggregate shape its own outbox payload instead of
// being serialized whole. The returned value is marshaled in its place.
type Payloader interface {
	ToOutboxPayload() any
}

// buildPayload serializes the aggregate for the outbox record. A
// registered projection wins, then a Payloader implementation, then the
// aggregate itself.
func buildPayload(reg *registration, aggregate any) (json.RawMessage, error) {
	subject := aggregate

	switch {
	case reg.project != nil:
		projected, err := reg.project(aggregate)
		if err != nil {
			return nil, fmt.Errorf("payload projection: %w", err)
		}
		subject = projected
	default:
		if p, ok := asPayloader(aggregate); ok {
			subject = p.ToOutboxPayload()
		}
	}

	raw, err := json.Marshal(subject)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return raw, nil
}

// asPayloader also probes pointer-receiver implementations when handed a
// plain value.
func asPayloader(aggregate any) (Payloader, bool) {
	if p, ok := aggregate.(Payloader); ok {
		return p, true
	}

	v := reflect.ValueOf(aggregate)
	if v.Kind() == reflect.Pointer || !v.IsValid() {
		return nil, false
	}
	ptr := reflect.New(v.Type())
	ptr.Elem().Set(v)
	p, ok := ptr.Interface().(Payloader)

	return p, ok
}
