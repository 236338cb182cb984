package server

import (
	"encoding/json"
	"net/http"

	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

const problemContentType = "application/problem+json"

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondProblem writes an RFC 9457 problem document.
func respondProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	problem := types.ProblemDetail{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
	if r != nil && r.URL != nil {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}
