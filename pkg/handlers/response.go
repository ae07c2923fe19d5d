package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
)

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

// writeServiceError maps a service error to an HTTP status.
// Row-security rejections surface as 403; anything unrecognized is a 500.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code, message := http.StatusInternalServerError, "internal_error", "Internal server error"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", "Resource not found"
	case errors.Is(err, apperrors.ErrUnauthenticated):
		status, code, message = http.StatusUnauthorized, "unauthorized", "Authentication required"
	case errors.Is(err, apperrors.ErrInvalidRole):
		status, code, message = http.StatusBadRequest, "invalid_role", err.Error()
	case errors.Is(err, apperrors.ErrInvalidStatus):
		status, code, message = http.StatusBadRequest, "invalid_status", err.Error()
	case errors.Is(err, apperrors.ErrInvalidCallStatus):
		status, code, message = http.StatusBadRequest, "invalid_call_status", err.Error()
	case errors.Is(err, apperrors.ErrConflict), database.IsUniqueViolation(err):
		status, code, message = http.StatusConflict, "conflict", "Resource already exists"
	case database.IsInsufficientPrivilege(err):
		status, code, message = http.StatusForbidden, "forbidden", "Operation not permitted"
	default:
		logger.Error("Request failed", zap.Error(err))
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
