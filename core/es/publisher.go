package es

import "context"

// Publisher receives the events of every successful write, in version order
// and in their stored form. Publishing is best effort: errors are logged and
// never undo a write.
type Publisher interface {
	Publish(ctx context.Context, aggType string, events []PersistedEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []PersistedEvent) error { return nil }
