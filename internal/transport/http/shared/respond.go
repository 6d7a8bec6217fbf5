// Package shared holds the HTTP response helpers used by every handler, so
// error payload shape and status mapping stay uniform across the API.
package shared

import (
	"encoding/json"
	"net/http"

	dErrors "crono/pkg/domain-errors"
)

// errorBody is the uniform error payload.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status and writes the uniform
// error payload. Unknown errors become 500 without leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	msg := err.Error()
	if code == dErrors.CodeInternal {
		msg = "internal error"
	}
	WriteJSON(w, StatusOf(code), errorBody{Error: string(code), Description: msg})
}

// StatusOf maps a domain error code to an HTTP status.
func StatusOf(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
