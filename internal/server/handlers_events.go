package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// handleEvents streams change envelopes as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondProblem(w, r, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}

	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	controller := http.NewResponseController(w)
	_ = controller.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	if err := writeSSEEvent(ctx, w, "ready", map[string]any{
		"version":   s.store.Version(),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return
	}
	_ = controller.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = controller.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(ctx, w, "change", event); err != nil {
				logger.Debug().Err(err).Msg("SSE client went away")
				return
			}
			_ = controller.Flush()
		}
	}
}

func writeSSEEvent(ctx context.Context, w http.ResponseWriter, event string, payload any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", strings.TrimSpace(event)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
