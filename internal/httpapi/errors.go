package httpapi

import (
	"encoding/json"
	"net/http"

	"brainctl/internal/orchestrator"
	"brainctl/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeServiceError maps well-known orchestrator errors to HTTP statuses
// and returns the status it wrote.
func writeServiceError(w http.ResponseWriter, err error) int {
	status := http.StatusInternalServerError
	switch {
	case orchestrator.IsUnknownNode(err):
		status = http.StatusNotFound
	case orchestrator.IsBusy(err):
		status = http.StatusConflict
	default:
		if he, ok := err.(HTTPError); ok {
			status = he.StatusCode()
		}
	}
	writeJSONError(w, status, err.Error())
	return status
}
