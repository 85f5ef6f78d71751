package domain

import "github.com/codewandler/esrepo-go/core/es"

type (
	TestEntity struct {
		es.Entity
		ID   string
		Name string
	}

	EntityCreated struct {
		es.EventBase
		EntityID string `json:"entityId"`
		Name     string `json:"name"`
	}

	EntityNameChanged struct {
		es.EventBase
		EntityID string `json:"entityId"`
		Name     string `json:"name"`
	}
)

func (EntityCreated) EventType() string     { return "TestEntityCreated" }
func (EntityNameChanged) EventType() string { return "TestEntityNameChanged" }

func newTestEntity(id, name string, apply es.Applier) *TestEntity {
	e := &TestEntity{Entity: es.NewEntity(apply), ID: id, Name: name}
	es.Handle(e, func(ev *EntityNameChanged) error {
		e.Name = ev.Name
		return nil
	})
	return e
}

func (e *TestEntity) ChangeName(name string) error {
	return e.Apply(&EntityNameChanged{EventBase: es.NewEventBase(), EntityID: e.ID, Name: name})
}
