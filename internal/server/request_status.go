package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

const requestStatusPrefix = "/api/v1/requests/"

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	requestID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, requestStatusPrefix))
	if requestID == "" || strings.Contains(requestID, "/") {
		writeError(w, http.StatusNotFound, "Unknown request")
		return
	}

	entry, ok := s.requests.Get(requestID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown request")
		return
	}

	resp := map[string]any{
		"request_id": requestID,
		"status":     entry.status,
		"audit":      nil,
	}
	if entry.status == statusCompleted && entry.event != nil {
		resp["audit"] = entry.event
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
