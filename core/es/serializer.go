package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the generic document an aggregate snapshot is made of.
type State map[string]any

// Snapshottable is implemented by aggregates that export and restore their
// own snapshot state. Aggregates without it are snapshotted through their
// JSON encoding.
type Snapshottable interface {
	SnapshotState() (State, error)
	RestoreState(State) error
}

// SnapshotSerializer converts aggregate state to and from a snapshot document.
type SnapshotSerializer interface {
	Serialize(agg Aggregate) (State, error)
	Deserialize(state State, agg Aggregate) error
}

const (
	typeMarker = "__type"
	dateType   = "Date"
)

// DefaultSerializer encodes time values as {"__type":"Date","value":<RFC 3339>}
// so they survive the round trip through a generic document. Nested maps and
// slices are walked; other values go through their JSON encoding.
type DefaultSerializer struct{}

func (DefaultSerializer) Serialize(agg Aggregate) (State, error) {
	var (
		state State
		err   error
	)
	if s, ok := agg.(Snapshottable); ok {
		state, err = s.SnapshotState()
	} else {
		state, err = jsonState(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to export state of %s: %w", agg.GetAggType(), err)
	}
	out, err := encodeValue(map[string]any(state))
	if err != nil {
		return nil, err
	}
	return State(out.(map[string]any)), nil
}

func (DefaultSerializer) Deserialize(state State, agg Aggregate) error {
	decoded := decodeValue(map[string]any(state)).(map[string]any)
	if s, ok := agg.(Snapshottable); ok {
		return s.RestoreState(decoded)
	}
	data, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	return decodeInto(data, agg)
}

func jsonState(v any) (State, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}

func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, json.Number, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x, nil
	case time.Time:
		return dateMarker(x), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return dateMarker(*x), nil
	case State:
		return encodeValue(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := decodeInto(data, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

func dateMarker(t time.Time) map[string]any {
	return map[string]any{typeMarker: dateType, "value": t.UTC().Format(time.RFC3339Nano)}
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if x[typeMarker] == dateType {
			if s, ok := x["value"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return t
				}
			}
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = decodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeValue(e)
		}
		return out
	}
	return v
}

// === State accessors ===

func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

func (s State) Time(key string) time.Time {
	switch v := s[key].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	}
	return time.Time{}
}

func (s State) Int64(key string) int64 {
	switch v := s[key].(type) {
	case json.Number:
		n, _ := v.Int64()
		return n
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func (s State) Float64(key string) float64 {
	switch v := s[key].(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Decode converts the value under key into out through its JSON encoding.
// Missing keys leave out untouched.
func (s State) Decode(key string, out any) error {
	v, ok := s[key]
	if !ok {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return decodeInto(data, out)
}

var _ SnapshotSerializer = DefaultSerializer{}
