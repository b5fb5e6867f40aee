package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// RespondJSON writes payload as JSON with status.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response JSON", "error", err)
	}
}

// RespondError writes {"message": msg} with status.
func RespondError(w http.ResponseWriter, status int, msg string) {
	RespondJSON(w, status, map[string]any{"message": msg})
}
