// Package ds provides small generic data structures.
package ds

import (
	"encoding/json"
	"fmt"
)

// Set is an insertion-ordered set. Membership is O(1); iteration follows the
// order in which elements were first added. Field name lists such as an
// event's encrypted properties are kept in a Set so a name is never processed twice.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }

// Add adds v unless already present.
func (s *Set[T]) Add(v T) {
	if s.items == nil {
		s.items = map[T]struct{}{}
	}
	if _, ok := s.items[v]; ok {
		return
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
}

// Extend adds every value, keeping first-seen order.
func (s *Set[T]) Extend(vs ...T) *Set[T] {
	for _, v := range vs {
		s.Add(v)
	}
	return s
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int      { return len(s.order) }
func (s *Set[T]) IsEmpty() bool { return len(s.order) == 0 }

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

// MarshalJSON serializes the set as an ordered JSON array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	if s.order == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.order)
}

// UnmarshalJSON deserializes a JSON array into the set, dropping duplicates.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var vs []T
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	s.items, s.order = nil, nil
	s.Extend(vs...)
	return nil
}

func NewSet[T comparable](items ...T) *Set[T] {
	return new(Set[T]).Extend(items...)
}
