package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-ui/internal/state"
	"git.cscs.ch/openchami/chamicore-ui/internal/syncer"
	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

type refreshAllResponse struct {
	Counts syncer.Counts `json:"counts"`
	Status syncer.Status `json:"status"`
}

// handleRefreshResource always answers 200: a failed fetch is reported in the
// outcome and through the error slot, like any other refresh.
func (s *Server) handleRefreshResource(resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := s.store.Refresh(r.Context(), resource)
		// Refresh only rejects names without a slot.
		if err != nil {
			respondProblem(w, r, http.StatusNotFound, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, types.RefreshResult{
			Resource: resource,
			Outcome:  string(outcome),
		})
	}
}

func (s *Server) handleRefreshMachineDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondProblem(w, r, http.StatusBadRequest, "machine id is required")
		return
	}

	outcome := s.store.RefreshMachineDetail(r.Context(), id)
	respondJSON(w, http.StatusOK, types.RefreshResult{
		Resource: state.ResourceMachineDetails,
		Key:      id,
		Outcome:  string(outcome),
	})
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		respondProblem(w, r, http.StatusServiceUnavailable, "refresh loop is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.triggerTimeout)
	defer cancel()

	counts, err := s.refresher.Trigger(ctx)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to trigger refresh cycle")
		respondProblem(w, r, http.StatusServiceUnavailable, "failed to trigger refresh cycle")
		return
	}
	respondJSON(w, http.StatusOK, refreshAllResponse{Counts: counts, Status: s.refresher.Status()})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		respondProblem(w, r, http.StatusServiceUnavailable, "refresh loop is not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.refresher.Status())
}
