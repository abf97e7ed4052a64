package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
)

// ApiResponse is the envelope for successful responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorMapping pairs a sentinel error with its HTTP status and error code.
type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperrors.ErrUnknownDatasource, http.StatusNotFound, "unknown_datasource"},
	{apperrors.ErrConflict, http.StatusConflict, "conflict"},
	{apperrors.ErrPoolActive, http.StatusConflict, "pool_active"},
	{apperrors.ErrInjectionDetected, http.StatusBadRequest, "injection_detected"},
	{apperrors.ErrInvalidFilter, http.StatusBadRequest, "invalid_filter"},
	{apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid_request"},
	{apperrors.ErrUnsupportedDialect, http.StatusBadRequest, "unsupported_dialect"},
	{apperrors.ErrNotBound, http.StatusServiceUnavailable, "not_bound"},
	{apperrors.ErrPoolRetired, http.StatusServiceUnavailable, "pool_retired"},
}

// StatusForError maps a service error to its HTTP status and error code.
// Unrecognized errors are internal errors.
func StatusForError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError writes the response for a failed service call. Internal
// errors are logged and their detail withheld from the client.
func writeServiceError(w http.ResponseWriter, err error, action string, logger *zap.Logger) {
	status, code := StatusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Failed to "+action, zap.Error(err))
		message = "Failed to " + action
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeOK writes data in the success envelope.
func writeOK(w http.ResponseWriter, status int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
