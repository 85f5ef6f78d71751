package domain

import (
	"time"

	"github.com/codewandler/esrepo-go/core/es"
)

type (
	// Note has no snapshot methods and is snapshotted through its JSON
	// encoding.
	Note struct {
		es.AggregateRoot

		ID       string    `json:"id"`
		Text     string    `json:"text"`
		Edits    int       `json:"edits"`
		EditedAt time.Time `json:"editedAt"`
	}

	NoteWritten struct {
		es.EventBase
		ID   string `json:"id"`
		Text string `json:"text"`
	}
)

func (NoteWritten) EventType() string { return "NoteWritten" }

func NewNote() *Note {
	n := &Note{}
	es.Handle(n, n.onWritten)
	return n
}

func (n *Note) GetID() string      { return n.ID }
func (n *Note) GetAggType() string { return "note" }

func (n *Note) Write(id, text string) error {
	return n.ApplyChange(&NoteWritten{EventBase: es.NewEventBase(), ID: id, Text: text})
}

func (n *Note) onWritten(e *NoteWritten) error {
	n.ID, n.Text = e.ID, e.Text
	n.Edits++
	n.EditedAt = e.OccurredAt()
	return nil
}

var _ es.Aggregate = (*Note)(nil)
