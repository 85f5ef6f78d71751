package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Singleflight is a typed singleflight.Group. Callers that arrive while a
// call for their key is in flight wait for it and share its result.
type Singleflight[T any] struct {
	group singleflight.Group
}

func New[T any]() *Singleflight[T] { return &Singleflight[T]{} }

// Do runs fn once per key among concurrent callers. shared reports whether
// the value went to more than one caller; shared values must not be mutated.
func (s *Singleflight[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	res, err, shared := s.group.Do(key, func() (any, error) { return fn() })
	if err == nil {
		v = res.(T)
	}
	return v, shared, err
}

// DoContext is Do for callers that may give up. fn runs with a context that
// keeps ctx's values but not its cancellation, so a caller leaving early does
// not fail the others waiting on the same key. Each caller returns as soon
// as its own ctx is done.
func (s *Singleflight[T]) DoContext(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) { return fn(detached) })
	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			v = res.Val.(T)
		}
		return v, res.Shared, res.Err
	}
}
