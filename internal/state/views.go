package state

// View is a read-only projection recomputed on every call. It holds no
// storage of its own.
type View[T any] func() T

// Project builds a View over a slot.
func Project[S, T any](slot *Slot[S], fn func(S) T) View[T] {
	return func() T {
		return fn(slot.Get())
	}
}

// Reversed returns a new slice with items in reverse order. The input is not
// modified.
func Reversed[T any](items []T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out
}
