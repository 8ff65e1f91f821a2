package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func respondJSON(w http.ResponseWriter, log *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, log *slog.Logger, status int, message string) {
	respondJSON(w, log, status, map[string]string{"error": message})
}
