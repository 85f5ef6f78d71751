package es

import "fmt"

// Aggregate is the contract the [Repository] persists and rehydrates.
// It is satisfied by embedding [*AggregateRoot] or [AggregateRoot] and adding
// GetID and GetAggType.
//
// The lifecycle of an aggregate is:
//  1. The repository factory constructs it and registers its routes.
//  2. Committed events are replayed through Initialize.
//  3. Domain commands call ApplyChange, which mutates state and records.
//  4. Write persists the recorded events and advances the expected version.
type Aggregate interface {
	// GetID returns the aggregate id, used as the partition key.
	GetID() string
	// GetAggType names the aggregate type. It is stored with snapshots.
	GetAggType() string

	Initialize(events []Event) error
	ApplyChange(e Event) error

	HasChanges() bool
	GetChanges() []Event
	ClearChanges()

	// GetExpectedVersion returns the number of events the store holds for
	// this aggregate as far as it knows.
	GetExpectedVersion() Version

	root() *AggregateRoot
}

// AggregateRoot tracks uncommitted events, the event routes and the expected
// version. Embed it in domain aggregates.
type AggregateRoot struct {
	recorder        EventRecorder
	router          EventRouter
	expectedVersion Version
}

func (a *AggregateRoot) root() *AggregateRoot        { return a }
func (a *AggregateRoot) eventRouter() *EventRouter   { return &a.router }
func (a *AggregateRoot) GetExpectedVersion() Version { return a.expectedVersion }
func (a *AggregateRoot) HasChanges() bool            { return a.recorder.Len() > 0 }
func (a *AggregateRoot) GetChanges() []Event         { return a.recorder.Events() }
func (a *AggregateRoot) ChangeCount() int            { return a.recorder.Len() }

// ConfigureRoute registers an untyped handler. See [Handle] for typed routes.
func (a *AggregateRoot) ConfigureRoute(eventType string, handler Handler) {
	a.router.ConfigureRoute(eventType, handler)
}

// Initialize replays committed events. Each routed event advances the
// expected version by one.
func (a *AggregateRoot) Initialize(events []Event) error {
	for _, e := range events {
		if err := a.router.Route(e); err != nil {
			return fmt.Errorf("failed to replay %s at version %d: %w", e.EventType(), a.expectedVersion, err)
		}
		a.expectedVersion++
	}
	return nil
}

// ApplyChange routes e to its handler and records it as uncommitted. Nothing
// is recorded if the recorder is full or the handler fails.
func (a *AggregateRoot) ApplyChange(e Event) error {
	if a.recorder.Full() {
		return ErrRecorderCapacityExceeded
	}
	if err := a.router.Route(e); err != nil {
		return err
	}
	return a.recorder.Record(e)
}

// ClearChanges marks all recorded events as committed.
func (a *AggregateRoot) ClearChanges() { a.commit(a.recorder.Len()) }

// commit marks the first n recorded events as committed.
func (a *AggregateRoot) commit(n int) {
	a.recorder.drop(n)
	a.expectedVersion += Version(n)
}

func (a *AggregateRoot) setExpectedVersion(v Version) { a.expectedVersion = v }
