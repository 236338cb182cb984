package state

import "sync"

// Change identifies which cached value was just replaced. Key is set only for
// keyed resources (machine details).
type Change struct {
	Resource string `json:"resource"`
	Key      string `json:"key,omitempty"`
}

// Observer is notified synchronously after a successful slot write.
// Implementations must not block for long: the refresh that triggered the
// change does not return until every observer has run.
type Observer interface {
	OnChange(change Change)
}

// ObserverFunc allows plain functions to satisfy Observer.
type ObserverFunc func(change Change)

// OnChange dispatches to the underlying function.
func (fn ObserverFunc) OnChange(change Change) {
	if fn == nil {
		return
	}
	fn(change)
}

type observerEntry struct {
	id       uint64
	observer Observer
}

// observerList keeps subscription order so notifications are deterministic.
type observerList struct {
	mu     sync.RWMutex
	nextID uint64
	items  []observerEntry
}

func (l *observerList) add(obs Observer) func() {
	if obs == nil {
		return func() {}
	}

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.items = append(l.items, observerEntry{id: id, observer: obs})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *observerList) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.items {
		if entry.id == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return
		}
	}
}

func (l *observerList) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// notify runs outside the list lock so observers may read the store or
// unsubscribe themselves.
func (l *observerList) notify(change Change) {
	l.mu.RLock()
	snapshot := make([]Observer, 0, len(l.items))
	for _, entry := range l.items {
		snapshot = append(snapshot, entry.observer)
	}
	l.mu.RUnlock()

	for _, obs := range snapshot {
		obs.OnChange(change)
	}
}
