package server

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
}

type versionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	Remote    string `json:"remoteVersion,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReadiness reports ready once the remote version has been fetched.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.store.Connected() {
		respondProblem(w, r, http.StatusServiceUnavailable, "remote API has not been reached yet")
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{Status: "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, versionResponse{
		Version:   s.version,
		Commit:    s.commit,
		BuildDate: s.buildDate,
		Remote:    s.store.Version(),
	})
}
