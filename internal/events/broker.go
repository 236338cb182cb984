package events

import (
	"sync"

	"git.cscs.ch/openchami/chamicore-ui/internal/state"
	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

const defaultBuffer = 16

// Broker fans change envelopes out to in-process subscribers. A subscriber
// that falls behind loses events rather than stalling the refresh that
// produced them.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan types.ChangeEvent]struct{}
	buffer int
}

var _ state.Observer = (*Broker)(nil)

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{
		subs:   make(map[chan types.ChangeEvent]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events and a func that closes it.
func (b *Broker) Subscribe() (<-chan types.ChangeEvent, func()) {
	ch := make(chan types.ChangeEvent, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Len returns the number of live subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// OnChange delivers the change to every subscriber without blocking.
func (b *Broker) OnChange(change state.Change) {
	event := NewChangeEvent(change)

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
