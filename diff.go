package outbox

import (
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
)

// diffSnapshots reports the JSON properties whose values differ between two
// snapshots of the same aggregate type. The comparison runs on the marshaled
// form, so property names and value shapes line up with the payload.
func diffSnapshots(before, after any) (map[string]FieldChange, error) {
	if before == nil || after == nil {
		return nil, ErrNilAggregate
	}
	bt, err := baseStructType(reflect.TypeOf(before))
	if err != nil {
		return nil, err
	}
	at, err := baseStructType(reflect.TypeOf(after))
	if err != nil {
		return nil, err
	}
	if bt != at {
		return nil, fmt.Errorf("%w: %s vs %s", ErrSnapshotMismatch, bt, at)
	}

	oldProps, err := asProperties(before)
	if err != nil {
		return nil, err
	}
	newProps, err := asProperties(after)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]FieldChange)
	for name, oldValue := range oldProps {
		newValue, present := newProps[name]
		if !present {
			changes[name] = FieldChange{OldValue: oldValue}
			continue
		}
		if !reflect.DeepEqual(oldValue, newValue) {
			changes[name] = FieldChange{OldValue: oldValue, NewValue: newValue}
		}
	}
	for name, newValue := range newProps {
		if _, present := oldProps[name]; !present {
			changes[name] = FieldChange{NewValue: newValue}
		}
	}

	return changes, nil
}

func asProperties(aggregate any) (map[string]any, error) {
	raw, err := json.Marshal(aggregate)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	props := make(map[string]any)
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return props, nil
}

// encodeChanges serializes a diff for storage. An empty diff encodes as an
// empty object; the update happened even if no property moved.
func encodeChanges(changes map[string]FieldChange) (json.RawMessage, error) {
	if len(changes) == 0 {
		return json.RawMessage(`{}`), nil
	}

	raw, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("marshal changed fields: %w", err)
	}

	return raw, nil
}
