package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ResourceError is the name observers receive when the error slot changes.
const ResourceError = "error"

// bodyCarrier is implemented by failures that carry a structured response
// body, such as *client.APIError.
type bodyCarrier interface {
	ResponseBody() json.RawMessage
}

// Failure is the last captured fetch failure. Body is set when the failure
// carried a structured response body; otherwise only Err is meaningful.
type Failure struct {
	Body       json.RawMessage
	Err        error
	OccurredAt time.Time
}

// IsZero reports whether no failure has been recorded.
func (f Failure) IsZero() bool {
	return len(f.Body) == 0 && f.Err == nil
}

// Value returns what observers display: the structured body when present,
// the raw failure message otherwise, and the empty string before any failure.
func (f Failure) Value() any {
	switch {
	case len(f.Body) > 0:
		return f.Body
	case f.Err != nil:
		return f.Err.Error()
	default:
		return ""
	}
}

// String renders Value as text.
func (f Failure) String() string {
	switch {
	case len(f.Body) > 0:
		return string(f.Body)
	case f.Err != nil:
		return f.Err.Error()
	default:
		return ""
	}
}

// MarshalJSON encodes Value.
func (f Failure) MarshalJSON() ([]byte, error) {
	if len(f.Body) > 0 {
		return f.Body, nil
	}
	return json.Marshal(f.String())
}

// ErrorSlot is the single shared cell holding the most recent failure from
// any refresh. Writes are last-write-wins and nothing clears it.
type ErrorSlot struct {
	mu      sync.RWMutex
	failure Failure

	observers observerList
}

// Get returns a copy of the last recorded failure.
func (s *ErrorSlot) Get() Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	failure := s.failure
	if failure.Body != nil {
		failure.Body = bytes.Clone(failure.Body)
	}
	return failure
}

// Subscribe registers an observer notified on every recorded failure.
func (s *ErrorSlot) Subscribe(obs Observer) func() {
	return s.observers.add(obs)
}

func (s *ErrorSlot) set(err error) {
	if err == nil {
		return
	}

	failure := Failure{Err: err, OccurredAt: time.Now().UTC()}
	var carrier bodyCarrier
	if errors.As(err, &carrier) {
		if body := carrier.ResponseBody(); len(body) > 0 {
			failure.Body = append(json.RawMessage(nil), body...)
		}
	}

	s.mu.Lock()
	s.failure = failure
	s.mu.Unlock()

	s.observers.notify(Change{Resource: ResourceError})
}
