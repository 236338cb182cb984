package state

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// KeyedSlot holds a mapping that is populated one key at a time. A refresh for
// one key never touches the other entries, and a failed refresh never removes
// the cached entry for its own key.
//
// Concurrent refreshes of the same key are last-response-wins: whichever
// response is applied last is the one retained.
type KeyedSlot[T any] struct {
	name  string
	clone func(T) T
	fetch func(ctx context.Context, key string) (T, error)

	mu      sync.RWMutex
	entries map[string]T

	observers observerList
}

func newKeyedSlot[T any](name string, clone func(T) T, fetch func(ctx context.Context, key string) (T, error)) *KeyedSlot[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &KeyedSlot[T]{
		name:    name,
		clone:   clone,
		fetch:   fetch,
		entries: make(map[string]T),
	}
}

// Name returns the resource name of the slot.
func (s *KeyedSlot[T]) Name() string {
	return s.name
}

// Get returns a copy of the cached entry for key.
func (s *KeyedSlot[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return value, false
	}
	return s.clone(value), true
}

// Keys returns the cached keys in sorted order.
func (s *KeyedSlot[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.entries))
}

// All returns a copy of the whole mapping.
func (s *KeyedSlot[T]) All() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.entries))
	for key, value := range s.entries {
		out[key] = s.clone(value)
	}
	return out
}

// Len returns the number of cached entries.
func (s *KeyedSlot[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe registers an observer that is notified with the written key.
func (s *KeyedSlot[T]) Subscribe(obs Observer) func() {
	return s.observers.add(obs)
}

func (s *KeyedSlot[T]) refresh(ctx context.Context, key string, errs *ErrorSlot) error {
	value, err := s.fetch(ctx, key)
	if err != nil {
		errs.set(err)
		return err
	}
	s.put(key, value)
	return nil
}

func (s *KeyedSlot[T]) put(key string, value T) {
	s.mu.Lock()
	s.entries[key] = s.clone(value)
	s.mu.Unlock()

	s.observers.notify(Change{Resource: s.name, Key: key})
}
