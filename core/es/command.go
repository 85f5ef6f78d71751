package es

import (
	"context"
	"errors"
	"log/slog"

	"github.com/codewandler/esrepo-go/core/perkey"
)

// DefaultUpdateAttempts bounds the read-modify-write cycles of Update.
const DefaultUpdateAttempts = 5

type (
	updateOpts struct {
		attempts int
		create   bool
		call     []CallOption
	}

	UpdateOption interface{ applyToUpdate(*updateOpts) }

	AttemptsOption valueOption[int]
	CreateOption   valueOption[bool]
)

// WithAttempts sets how often Update runs the command before it gives up on
// concurrency conflicts.
func WithAttempts(n int) AttemptsOption { return AttemptsOption{v: n} }

// WithCreate hands a fresh aggregate to the command when none is stored.
func WithCreate(create bool) CreateOption { return CreateOption{v: create} }

func (o AttemptsOption) applyToUpdate(u *updateOpts)      { u.attempts = o.v }
func (o CreateOption) applyToUpdate(u *updateOpts)        { u.create = o.v }
func (o EncryptionKeyOption) applyToUpdate(u *updateOpts) { u.call = append(u.call, o) }

func newUpdateOpts(opts ...UpdateOption) updateOpts {
	u := updateOpts{attempts: DefaultUpdateAttempts}
	for _, opt := range opts {
		opt.applyToUpdate(&u)
	}
	if u.attempts < 1 {
		u.attempts = 1
	}
	return u
}

// Update reads the aggregate, runs cmd on it and writes the resulting
// changes. On a concurrency conflict the whole cycle is repeated on a fresh
// read. Errors returned by cmd are never retried.
func Update[T Aggregate](
	ctx context.Context,
	repo *Repository[T],
	id string,
	cmd func(T) error,
	opts ...UpdateOption,
) (agg T, err error) {
	var (
		options = newUpdateOpts(opts...)
		log     = repo.log.With(repo.aggAttrs(id))
		zero    T
	)

	for attempt := 1; ; attempt++ {
		var ok bool
		agg, ok, err = repo.Read(ctx, id, options.call...)
		if err != nil {
			return zero, err
		}
		if !ok {
			if !options.create {
				return zero, ErrAggregateNotFound
			}
			agg = repo.factory()
		}

		if err := cmd(agg); err != nil {
			return zero, err
		}
		if !agg.HasChanges() {
			return agg, nil
		}

		err = repo.Write(ctx, agg, options.call...)
		if err == nil {
			return agg, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt >= options.attempts {
			return zero, err
		}
		log.Debug("conflict, retrying", slog.Int("attempt", attempt))
	}
}

// Executor runs commands through Update one at a time per aggregate id, so
// writers inside one process never conflict with each other. Commands for
// different ids run concurrently.
type Executor[T Aggregate] struct {
	repo  *Repository[T]
	sched *perkey.Scheduler[string]
}

func NewExecutor[T Aggregate](repo *Repository[T], opts ...perkey.Option) *Executor[T] {
	return &Executor[T]{repo: repo, sched: perkey.New[string](opts...)}
}

// Execute queues cmd behind earlier commands for id and waits for it.
func (e *Executor[T]) Execute(ctx context.Context, id string, cmd func(T) error, opts ...UpdateOption) (T, error) {
	var res T
	err := e.sched.DoContext(ctx, id, func() error {
		agg, err := Update(ctx, e.repo, id, cmd, opts...)
		res = agg
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}

// Close stops accepting commands and waits for queued ones.
func (e *Executor[T]) Close() { e.sched.Close() }
