package es

import "fmt"

// Handler applies a routed event to state.
type Handler func(Event) error

type route struct {
	handle   Handler
	newEvent func() Event
}

// EventRouter dispatches events to handlers by event type. Registering a
// type twice replaces the earlier handler.
type EventRouter struct {
	routes map[string]route
}

func NewEventRouter() *EventRouter { return &EventRouter{} }

// ConfigureRoute registers an untyped handler. Events of this type are
// decoded as [*RawEvent] when read from the store.
func (r *EventRouter) ConfigureRoute(eventType string, handler Handler) {
	r.configure(eventType, route{handle: handler})
}

func (r *EventRouter) configure(eventType string, rt route) {
	if r.routes == nil {
		r.routes = map[string]route{}
	}
	r.routes[eventType] = rt
}

// Route invokes the handler registered for e. A missing handler yields a
// [*MissingHandlerError].
func (r *EventRouter) Route(e Event) error {
	rt, ok := r.routes[e.EventType()]
	if !ok {
		return &MissingHandlerError{EventType: e.EventType()}
	}
	return rt.handle(e)
}

// Handles reports whether a handler is registered for eventType.
func (r *EventRouter) Handles(eventType string) bool {
	_, ok := r.routes[eventType]
	return ok
}

// decoder returns the constructor for eventType. It is nil for untyped routes.
func (r *EventRouter) decoder(eventType string) (func() Event, error) {
	rt, ok := r.routes[eventType]
	if !ok {
		return nil, &MissingHandlerError{EventType: eventType}
	}
	return rt.newEvent, nil
}

// === typed routes ===

type eventPtr[T any] interface {
	*T
	Event
}

// Router is implemented by types embedding [AggregateRoot] or [Entity].
type Router interface {
	eventRouter() *EventRouter
}

// Handle registers a typed handler on r. The event type tag is taken from a
// zero E, so EventType must not depend on field values. Events read from the
// store are decoded into a fresh E before the handler runs.
func Handle[T any, E eventPtr[T]](r Router, handler func(E) error) {
	eventType := E(new(T)).EventType()
	r.eventRouter().configure(eventType, route{
		handle: func(e Event) error {
			switch v := any(e).(type) {
			case E:
				return handler(v)
			case T:
				return handler(E(&v))
			}
			return fmt.Errorf("%w: route %s expects %T, got %T", ErrUnexpectedEventType, eventType, new(T), e)
		},
		newEvent: func() Event { return E(new(T)) },
	})
}
