// Package handlers provides the HTTP handlers for the PhotoGate API.
package handlers

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/photogate/photogate/internal/logger"
)

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError writes the canonical error body. A stack trace is attached
// only when development mode is on; it is captured at the write site,
// which is close enough to the failure for debugging.
func WriteError(w http.ResponseWriter, status int, message string, development bool) {
	body := ErrorBody{Error: true, Message: message}
	if development {
		body.Stack = string(debug.Stack())
	}
	WriteJSON(w, status, body)
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, message string, development bool) {
	WriteError(w, http.StatusBadRequest, message, development)
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, message string, development bool) {
	WriteError(w, http.StatusNotFound, message, development)
}

// Internal logs the cause and writes a generic 500 error response. The
// raw error text never leaves the process outside development mode.
func Internal(w http.ResponseWriter, err error, development bool) {
	logger.Error("request failed", "error", err)
	message := "Server Error"
	if development && err != nil {
		message = err.Error()
	}
	WriteError(w, http.StatusInternalServerError, message, development)
}
