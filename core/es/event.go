package es

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a domain fact raised by an aggregate. EventType is the tag used
// for routing and persistence. EncryptedProps names the payload fields that
// are encrypted at rest when the repository has an encryption key.
type Event interface {
	EventType() string
	OccurredAt() time.Time
	EncryptedProps() []string
}

// EventBase is embedded by concrete events. Its fields are stored in the
// event row rather than in the payload.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Sensitive []string  `json:"encryptedProps,omitempty"`
}

// NewEventBase stamps the current time and the names of the payload fields
// to encrypt.
func NewEventBase(encryptedProps ...string) EventBase {
	return EventBase{Timestamp: time.Now().UTC(), Sensitive: encryptedProps}
}

func (e EventBase) OccurredAt() time.Time    { return e.Timestamp }
func (e EventBase) EncryptedProps() []string { return e.Sensitive }

// RawEvent carries an untyped payload. It is produced on read for routes
// registered with [EventRouter.ConfigureRoute] and can be raised directly.
type RawEvent struct {
	EventBase
	Type string
	Data map[string]any
}

func NewRawEvent(eventType string, data map[string]any, encryptedProps ...string) *RawEvent {
	return &RawEvent{EventBase: NewEventBase(encryptedProps...), Type: eventType, Data: data}
}

func (e *RawEvent) EventType() string { return e.Type }

// PersistedEvent is the stored form of an event: one row per event, keyed by
// aggregate id and version.
type PersistedEvent struct {
	AggregateID      string         `json:"aggregateId"`
	AggregateVersion Version        `json:"aggregateVersion"`
	EventType        string         `json:"eventType"`
	Timestamp        time.Time      `json:"timestamp"`
	EncryptedProps   []string       `json:"encryptedProps,omitempty"`
	FieldEncoding    string         `json:"fieldEncoding,omitempty"`
	Data             map[string]any `json:"data"`
}

// reserved keys of the persisted event document, never part of the payload
var reservedKeys = []string{"aggregateId", "aggregateVersion", "eventType", "timestamp", "encryptedProps", "fieldEncoding"}

// payloadOf returns the domain payload of e as a generic document.
func payloadOf(e Event) (map[string]any, error) {
	if raw, ok := e.(*RawEvent); ok {
		out := make(map[string]any, len(raw.Data))
		for k, v := range raw.Data {
			out[k] = v
		}
		return out, nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.EventType(), err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("event %s must encode to a JSON object: %w", e.EventType(), err)
	}
	for _, k := range reservedKeys {
		delete(doc, k)
	}
	return doc, nil
}

// decodeEvent reconstructs the event held by pe. newEvent is nil for untyped routes.
func decodeEvent(pe PersistedEvent, newEvent func() Event) (Event, error) {
	if newEvent == nil {
		return &RawEvent{
			EventBase: EventBase{Timestamp: pe.Timestamp, Sensitive: pe.EncryptedProps},
			Type:      pe.EventType,
			Data:      pe.Data,
		}, nil
	}

	doc := make(map[string]any, len(pe.Data)+2)
	for k, v := range pe.Data {
		doc[k] = v
	}
	doc["timestamp"] = pe.Timestamp
	if len(pe.EncryptedProps) > 0 {
		doc["encryptedProps"] = pe.EncryptedProps
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	ev := newEvent()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode event %s at version %d: %w", pe.EventType, pe.AggregateVersion, err)
	}
	return ev, nil
}

// decodeDocument unmarshals a JSON object keeping numbers exact.
func decodeDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("unexpected null document")
	}
	return doc, nil
}

func decodeInto(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
