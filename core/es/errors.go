package es

import (
	"errors"
	"fmt"
)

var (
	ErrRecorderCapacityExceeded = fmt.Errorf("event recorder holds the maximum of %d uncommitted events", MaxUncommittedEvents)
	ErrMissingEventHandler      = errors.New("missing event handler")
	ErrConcurrencyConflict      = errors.New("concurrency conflict")
	ErrAggregateNotFound        = errors.New("aggregate not found")
	ErrSnapshotUnavailable      = errors.New("snapshot unavailable")
	ErrSnapshotsDisabled        = errors.New("snapshots are disabled")
	ErrTableNameRequired        = errors.New("table name is required")
	ErrAggregateIDRequired      = errors.New("aggregate id is required")
	ErrUnexpectedEventType      = errors.New("unexpected event type")
	ErrCorruptHistory           = errors.New("corrupt event history")
	ErrEntityNotBound           = errors.New("entity is not bound to an aggregate")
)

// MissingHandlerError is returned when an event is routed to a router that
// has no handler for its type. It matches ErrMissingEventHandler.
type MissingHandlerError struct {
	EventType string
}

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("handler not found for event %q, did you forget to register it?", e.EventType)
}

func (e *MissingHandlerError) Is(target error) bool { return target == ErrMissingEventHandler }
