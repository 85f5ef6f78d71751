package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/esrepo-go/core/es"
)

type (
	TestAgg struct {
		es.AggregateRoot

		ID            string
		Name          string
		Counter       int
		NumIncrements int
		NumResets     int
		CreatedAt     time.Time
		Entities      map[string]*TestEntity
	}

	Created struct {
		es.EventBase
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	NameChanged struct {
		es.EventBase
		Name string `json:"name"`
	}

	Incremented struct {
		es.EventBase
		Inc   uint8 `json:"inc,omitempty"`
		Reset bool  `json:"reset,omitempty"`
	}
)

func (Created) EventType() string     { return "TestAggCreated" }
func (NameChanged) EventType() string { return "TestAggNameChanged" }
func (Incremented) EventType() string { return "TestAggIncremented" }

// New returns an empty aggregate with its routes registered.
func New() *TestAgg {
	a := &TestAgg{Entities: map[string]*TestEntity{}}
	es.Handle(a, a.onCreated)
	es.Handle(a, a.onNameChanged)
	es.Handle(a, a.onIncremented)
	es.Handle(a, a.onEntityCreated)
	es.Handle(a, a.onEntityNameChanged)
	return a
}

func (a *TestAgg) GetID() string      { return a.ID }
func (a *TestAgg) GetAggType() string { return "test_agg" }

// === Commands ===

// Create opens the aggregate. The name is marked for encryption.
func (a *TestAgg) Create(id, name string) error {
	if a.ID != "" {
		return errors.New("already created")
	}
	return a.ApplyChange(&Created{EventBase: es.NewEventBase("name"), ID: id, Name: name})
}

func (a *TestAgg) ChangeName(name string) error {
	return a.ApplyChange(&NameChanged{EventBase: es.NewEventBase("name"), Name: name})
}

func (a *TestAgg) Reset() error { return a.ApplyChange(&Incremented{EventBase: es.NewEventBase(), Reset: true}) }
func (a *TestAgg) Inc() error   { return a.IncBy(1) }
func (a *TestAgg) IncBy(v uint8) error {
	return a.ApplyChange(&Incremented{EventBase: es.NewEventBase(), Inc: v})
}

func (a *TestAgg) AddEntity(id, name string) error {
	if _, ok := a.Entities[id]; ok {
		return fmt.Errorf("entity %s exists", id)
	}
	return a.ApplyChange(&EntityCreated{EventBase: es.NewEventBase(), EntityID: id, Name: name})
}

// === Handlers ===

func (a *TestAgg) onCreated(e *Created) error {
	a.ID = e.ID
	a.Name = e.Name
	a.CreatedAt = e.OccurredAt()
	return nil
}

func (a *TestAgg) onNameChanged(e *NameChanged) error {
	a.Name = e.Name
	return nil
}

func (a *TestAgg) onIncremented(e *Incremented) error {
	if e.Inc > 0 {
		a.Counter += int(e.Inc)
		a.NumIncrements++
	}
	if e.Reset {
		a.Counter = 0
		a.NumResets++
	}
	return nil
}

func (a *TestAgg) onEntityCreated(e *EntityCreated) error {
	a.Entities[e.EntityID] = newTestEntity(e.EntityID, e.Name, a.ApplyChange)
	return nil
}

func (a *TestAgg) onEntityNameChanged(e *EntityNameChanged) error {
	ent, ok := a.Entities[e.EntityID]
	if !ok {
		return fmt.Errorf("unknown entity %s", e.EntityID)
	}
	return ent.Route(e)
}

// === Snapshots ===

// SensitiveFields keeps the name encrypted in snapshots taken after events
// that do not carry it.
func (a *TestAgg) SensitiveFields() []string { return []string{"name"} }

func (a *TestAgg) SnapshotState() (es.State, error) {
	entities := make([]any, 0, len(a.Entities))
	for _, ent := range a.Entities {
		entities = append(entities, map[string]any{"id": ent.ID, "name": ent.Name})
	}
	return es.State{
		"id":            a.ID,
		"name":          a.Name,
		"counter":       a.Counter,
		"numIncrements": a.NumIncrements,
		"numResets":     a.NumResets,
		"createdAt":     a.CreatedAt,
		"entities":      entities,
	}, nil
}

func (a *TestAgg) RestoreState(s es.State) error {
	a.ID = s.String("id")
	a.Name = s.String("name")
	a.Counter = int(s.Int64("counter"))
	a.NumIncrements = int(s.Int64("numIncrements"))
	a.NumResets = int(s.Int64("numResets"))
	a.CreatedAt = s.Time("createdAt")

	var entities []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := s.Decode("entities", &entities); err != nil {
		return err
	}
	for _, e := range entities {
		a.Entities[e.ID] = newTestEntity(e.ID, e.Name, a.ApplyChange)
	}
	return nil
}

var (
	_ es.Aggregate        = (*TestAgg)(nil)
	_ es.Snapshottable    = (*TestAgg)(nil)
	_ es.SensitiveFielder = (*TestAgg)(nil)
)
