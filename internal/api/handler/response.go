// Package handler implements the trigger API endpoints used by scheduler
// and operator tooling.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response JSON", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code string, err error) {
	payload := map[string]any{"error": code}
	if err != nil {
		payload["detail"] = err.Error()
	}
	respondJSON(w, status, payload)
}

// respondSkipped signals that a sweep invocation was dropped because another
// pass held the lock.
func respondSkipped(w http.ResponseWriter) {
	respondJSON(w, http.StatusConflict, map[string]any{"status": "skipped", "reason": "sweep already running"})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
