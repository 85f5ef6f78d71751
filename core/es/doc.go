// Package es persists event-sourced aggregates in a key-range table.
//
// # Aggregates
//
// A domain aggregate embeds [AggregateRoot], registers one handler per event
// type when it is constructed and changes state only through events:
//
//	type Account struct {
//	    es.AggregateRoot
//	    id    string
//	    owner string
//	}
//
//	func NewAccount() *Account {
//	    a := &Account{}
//	    es.Handle(a, a.onOpened)
//	    return a
//	}
//
//	func (a *Account) Open(id, owner string) error {
//	    return a.ApplyChange(&AccountOpened{EventBase: es.NewEventBase("owner"), ID: id, Owner: owner})
//	}
//
// ApplyChange routes the event to its handler and records it. At most
// [MaxUncommittedEvents] may be recorded between writes. Child objects embed
// [Entity] and raise their events through the owning aggregate.
//
// # Repository
//
// [Repository] writes the recorded events as one conditional batch keyed by
// aggregate id and version. The batch fails as a whole with
// [ErrConcurrencyConflict] when another writer got there first:
//
//	repo, err := es.NewRepository(store, NewAccount, es.Config{TableName: "accounts"})
//	acc, ok, err := repo.Read(ctx, "acc-1")
//	err = acc.Deposit(100)
//	err = repo.Write(ctx, acc)
//
// # Commands
//
// [Update] runs a read, command and write cycle and retries it on a
// concurrency conflict. [Executor] additionally serializes commands per
// aggregate id inside the process, so local callers never race each other.
//
// # Snapshots
//
// With Config.Snapshot.Enabled a snapshot is written every Frequency events
// and the newest Retention snapshots are kept. Snapshots live in the same
// partition as the events under negative versions. Reads restore the newest
// snapshot and replay only later events, falling back to a full replay when
// the snapshot cannot be used. Aggregates control their snapshot state by
// implementing [Snapshottable].
//
// # Encryption
//
// Fields named by an event's EncryptedProps are encrypted with AES-CBC under
// the repository's key, or a key passed with [WithEncryptionKey] on a single
// call. Aggregates name sensitive snapshot fields with [SensitiveFielder].
package es
