package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/domain"
)

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// orgIDFromRequest extracts the tenant from the X-Organization-ID header.
func orgIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Organization-ID")
	if raw == "" {
		return uuid.Nil, errors.New("missing X-Organization-ID header")
	}
	return uuid.Parse(raw)
}

// uuidParam parses a chi URL parameter as a UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// writeStoreError maps store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSONError(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrCircularDependency):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrUnsubscribed):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrNoBusinessHours):
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}
