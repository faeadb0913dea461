package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ParseEntityUID extracts the entity uid from the request path.
// Returns the uid and true on success, or "" and false on error
// (after writing an error response).
// Expects path parameter: uid
func ParseEntityUID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	uid := strings.TrimSpace(r.PathValue("uid"))
	if uid == "" || len(uid) > 128 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_uid", "Invalid entity uid"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return uid, true
}

// parseLimit reads an optional positive integer query parameter, clamped to max.
// Returns false (after writing an error response) when the value is not a
// positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request, name string, def, max int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", name+" must be a positive integer"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return min(n, max), true
}
