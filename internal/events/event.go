// Package events fans state changes out of the process: to NATS subjects and
// to in-process subscribers such as SSE streams.
package events

import (
	"time"

	"github.com/google/uuid"

	"git.cscs.ch/openchami/chamicore-ui/internal/state"
	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

// Source is stamped on every envelope.
const Source = "chamicore-ui"

// NewChangeEvent wraps a state change in a uniquely identified envelope.
func NewChangeEvent(change state.Change) types.ChangeEvent {
	return types.ChangeEvent{
		ID:         uuid.NewString(),
		Source:     Source,
		Resource:   change.Resource,
		Key:        change.Key,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
