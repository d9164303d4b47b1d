package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/execserver/internal/apperror"
	"github.com/sakif/execserver/internal/kernel"
)

// ErrorResponse is the error body of the notebook and kernel endpoints:
//
//	{"error": "not_found", "message": "notebook not found with id abc123"}
//
// The execute and health endpoints keep their own flat {"error": "..."} shape.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable type
	Message string `json:"message"` // human-readable description
}

// writeJSON sets the content type and status, then encodes data.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are gone by now; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// WriteError is writeError for middleware living outside this package.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err)
}

// writeError maps a service error onto a status code and ErrorResponse.
// Errors that are neither AppErrors nor interpreter faults become an opaque
// 500 so storage details never reach the client.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		}

		writeJSON(w, status, ErrorResponse{Error: errorType, Message: appErr.Message})
		return
	}

	switch {
	case errors.Is(err, kernel.ErrKernelDied):
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "kernel_error",
			Message: "the interpreter exited unexpectedly; its namespace has been reset",
		})
	case errors.Is(err, kernel.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "unavailable",
			Message: "the interpreter is not accepting work",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
	}
}
