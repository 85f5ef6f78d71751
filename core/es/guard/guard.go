// Package guard checks command preconditions before an aggregate raises an
// event. A failed check returns an error wrapping [ErrPrecondition] and
// naming the condition, so callers can tell rejected commands from
// infrastructure errors.
package guard

import (
	"errors"
	"fmt"
)

var ErrPrecondition = errors.New("precondition failed")

type CondFunc func() bool

type Cond interface {
	String() string
	Eval() bool
	Check() error
}

type cond struct {
	name  string
	cond  CondFunc
	check func() error
}

func (c *cond) Check() error   { return c.check() }
func (c *cond) String() string { return c.name }
func (c *cond) Eval() bool     { return c.cond() }

func newCond(name string, condFn CondFunc) *cond {
	return &cond{name: name, cond: condFn, check: func() error {
		if !condFn() {
			return fmt.Errorf("%w: %s", ErrPrecondition, name)
		}
		return nil
	}}
}

func Not(c Cond) Cond {
	return newCond(fmt.Sprintf("not(%s)", c.String()), func() bool { return !c.Eval() })
}
func True(v bool, name string) Cond  { return newCond(name, func() bool { return v }) }
func False(v bool, name string) Cond { return newCond(name, func() bool { return !v }) }

func NotEmpty(s, name string) Cond {
	return newCond(name+" must not be empty", func() bool { return s != "" })
}

func Positive(n int, name string) Cond {
	return newCond(fmt.Sprintf("%s must be positive, got %d", name, n), func() bool { return n > 0 })
}

// All is satisfied when every condition is. Check reports the first failure.
func All(cs ...Cond) Cond {
	all := newCond("all", func() bool {
		for _, c := range cs {
			if !c.Eval() {
				return false
			}
		}
		return true
	})

	all.check = func() error {
		for _, c := range cs {
			if err := c.Check(); err != nil {
				return err
			}
		}
		return nil
	}

	return all
}

// Check evaluates the conditions in order and returns the first failure.
func Check(cs ...Cond) error { return All(cs...).Check() }
