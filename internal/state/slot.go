package state

import (
	"context"
	"sync"
	"time"
)

// Slot holds one wholesale-replaced resource. Reads return a copy of the last
// successfully fetched value, or the initial value before the first fetch.
type Slot[T any] struct {
	name  string
	fetch func(ctx context.Context) (T, error)
	clone func(T) T

	mu        sync.RWMutex
	value     T
	updatedAt time.Time

	observers observerList
}

func newSlot[T any](name string, initial T, clone func(T) T, fetch func(ctx context.Context) (T, error)) *Slot[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Slot[T]{
		name:  name,
		fetch: fetch,
		clone: clone,
		value: initial,
	}
}

// Name returns the resource name of the slot.
func (s *Slot[T]) Name() string {
	return s.name
}

// Get returns the current cached value.
func (s *Slot[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clone(s.value)
}

// UpdatedAt returns when the slot was last replaced. Zero until the first
// successful fetch.
func (s *Slot[T]) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Subscribe registers an observer for this slot and returns its cancel func.
func (s *Slot[T]) Subscribe(obs Observer) func() {
	return s.observers.add(obs)
}

// refresh fetches and replaces the value. On failure the value is untouched
// and the error is recorded in errs.
func (s *Slot[T]) refresh(ctx context.Context, errs *ErrorSlot) error {
	value, err := s.fetch(ctx)
	if err != nil {
		errs.set(err)
		return err
	}
	s.set(value)
	return nil
}

func (s *Slot[T]) set(value T) {
	s.mu.Lock()
	s.value = s.clone(value)
	s.updatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.observers.notify(Change{Resource: s.name})
}
