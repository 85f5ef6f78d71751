package es

// MaxUncommittedEvents bounds the events an aggregate may buffer between
// writes. It matches the largest conditional batch a store accepts.
const MaxUncommittedEvents = 100

// EventRecorder buffers uncommitted events in the order they were applied.
type EventRecorder struct {
	events []Event
}

// Record appends e. It fails once the recorder holds MaxUncommittedEvents.
func (r *EventRecorder) Record(e Event) error {
	if r.Full() {
		return ErrRecorderCapacityExceeded
	}
	r.events = append(r.events, e)
	return nil
}

func (r *EventRecorder) Full() bool { return len(r.events) >= MaxUncommittedEvents }
func (r *EventRecorder) Len() int   { return len(r.events) }
func (r *EventRecorder) Reset()     { r.events = nil }

// Events returns a copy of the buffered events.
func (r *EventRecorder) Events() []Event {
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// drop removes the first n events.
func (r *EventRecorder) drop(n int) {
	if n >= len(r.events) {
		r.events = nil
		return
	}
	r.events = append([]Event(nil), r.events[n:]...)
}
