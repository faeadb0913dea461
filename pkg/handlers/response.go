package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/logging"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
	"github.com/ekaya-inc/sanctions-engine/pkg/services"
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

// errorStatus maps a service error onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var (
		netErr   *apperrors.NetworkError
		httpErr  *apperrors.HTTPError
		parseErr *apperrors.ParseError
	)
	switch {
	case errors.Is(err, apperrors.ErrSyncInProgress):
		return http.StatusConflict, "sync_in_progress"
	case repositories.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrEmbeddingsDisabled):
		return http.StatusServiceUnavailable, "embeddings_disabled"
	case errors.As(err, &netErr), errors.As(err, &httpErr):
		return http.StatusBadGateway, "source_unavailable"
	case errors.As(err, &parseErr):
		return http.StatusBadGateway, "source_invalid"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError logs err and writes the mapped error response. Server
// errors get a generic message; client-visible errors carry the sanitized cause.
func writeServiceError(w http.ResponseWriter, err error, message string, logger *zap.Logger) {
	status, code := errorStatus(err)
	detail := logging.SanitizeError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.String("error", detail))
	} else {
		logger.Debug(message, zap.String("error", detail))
	}
	if status == http.StatusInternalServerError {
		detail = message
	}
	if err := ErrorResponse(w, status, code, detail); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
