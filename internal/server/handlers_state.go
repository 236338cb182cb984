package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type errorResponse struct {
	Error      any        `json:"error"`
	OccurredAt *time.Time `json:"occurredAt,omitempty"`
}

type versionSlotResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleGetVersion(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, versionSlotResponse{Version: s.store.Version()})
}

func (s *Server) handleGetList(resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, ok := s.store.List(resource)
		if !ok {
			respondProblem(w, r, http.StatusNotFound, "unknown resource "+resource)
			return
		}
		respondJSON(w, http.StatusOK, records)
	}
}

func (s *Server) handleGetRecentActivities(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.store.ReversedActivities())
}

func (s *Server) handleGetMachineDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	detail, ok := s.store.MachineDetail(id)
	if !ok {
		respondProblem(w, r, http.StatusNotFound, "no cached detail for machine "+id)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleGetError(w http.ResponseWriter, _ *http.Request) {
	failure := s.store.Error()
	resp := errorResponse{Error: failure.Value()}
	if !failure.OccurredAt.IsZero() {
		occurredAt := failure.OccurredAt
		resp.OccurredAt = &occurredAt
	}
	respondJSON(w, http.StatusOK, resp)
}
