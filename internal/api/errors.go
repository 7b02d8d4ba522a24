package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"homedash/internal/ha"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeHubUnavailable = "hub_unavailable"
	ErrCodeUnavailable    = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeHubError maps a gateway error onto the response.
// A hub rejection is passed through with the hub's own status and body.
func writeHubError(w http.ResponseWriter, err error) {
	var hubErr *ha.HubError
	switch {
	case errors.As(err, &hubErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(hubErr.StatusCode)
		if len(hubErr.Body) > 0 {
			//nolint:errcheck // Best-effort write to response; connection may be closed
			w.Write(hubErr.Body)
		}
	case errors.Is(err, ha.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, ha.ErrHubUnavailable):
		writeError(w, http.StatusBadGateway, ErrCodeHubUnavailable, "Home Assistant is unavailable")
	default:
		writeInternalError(w, "internal server error")
	}
}
