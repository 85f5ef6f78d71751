package es

import "fmt"

// Applier hands an event raised by an entity to its owning aggregate.
type Applier func(Event) error

// Entity is embedded by domain objects owned by an aggregate. Entities route
// events like aggregates do but record nothing themselves: Apply forwards to
// the owner, which routes the event back to the entity from its own handler.
type Entity struct {
	applier Applier
	router  EventRouter
}

func NewEntity(applier Applier) Entity { return Entity{applier: applier} }

func (e *Entity) eventRouter() *EventRouter { return &e.router }

func (e *Entity) ConfigureRoute(eventType string, handler Handler) {
	e.router.ConfigureRoute(eventType, handler)
}

// Route dispatches ev to the entity's own handlers.
func (e *Entity) Route(ev Event) error { return e.router.Route(ev) }

// Apply raises ev on the owning aggregate. An entity created without an
// applier returns ErrEntityNotBound.
func (e *Entity) Apply(ev Event) error {
	if e.applier == nil {
		return fmt.Errorf("%w: cannot apply %s", ErrEntityNotBound, ev.EventType())
	}
	return e.applier(ev)
}
