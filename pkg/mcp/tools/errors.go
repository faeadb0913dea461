package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/logging"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
	"github.com/ekaya-inc/sanctions-engine/pkg/services"
)

// ErrorResponse represents a structured error in tool results.
// Actionable errors are returned as successful tool results so the
// client sees the details instead of a bare protocol failure.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors the caller can act on (bad parameters,
// unknown uid, a sync already running).
//
// Do NOT use this for system failures such as a lost database connection;
// those return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// invalidParameter reports a missing or unusable tool argument, naming it in
// the details so clients can correct the call.
func invalidParameter(name, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails("invalid_parameters", message, map[string]string{"parameter": name})
}

// serviceErrorResult converts an actionable service error into a tool error
// result. Returns nil for errors that should surface as Go errors.
func serviceErrorResult(err error) *mcp.CallToolResult {
	var (
		netErr   *apperrors.NetworkError
		httpErr  *apperrors.HTTPError
		parseErr *apperrors.ParseError
	)
	switch {
	case repositories.IsNotFound(err):
		return NewErrorResult("not_found", logging.SanitizeError(err))
	case errors.Is(err, apperrors.ErrSyncInProgress):
		return NewErrorResult("sync_in_progress", "a sanctions sync is already running; retry when it finishes")
	case errors.Is(err, services.ErrEmbeddingsDisabled):
		return NewErrorResult("embeddings_disabled", "no embedding provider is configured")
	case errors.As(err, &netErr), errors.As(err, &httpErr):
		return NewErrorResult("source_unavailable", logging.SanitizeError(err))
	case errors.As(err, &parseErr):
		return NewErrorResult("source_invalid", logging.SanitizeError(err))
	default:
		return nil
	}
}
