package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies a provider failure.
type ErrorType string

const (
	ErrorTypeEndpoint    ErrorType = "endpoint"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeResponse    ErrorType = "response"
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int    // HTTP status code if applicable
	Model      string // Model name if known
	Endpoint   string // Endpoint URL if known
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if host := endpointHost(e.Endpoint); host != "" {
		parts = append(parts, fmt.Sprintf("endpoint=%s", host))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// statusCoder lets provider-specific packages expose a status code without
// this file importing every SDK.
type statusCoder interface {
	HTTPStatusCode() int
}

// statusCodeOf extracts the HTTP status from SDK error types, falling back
// to scanning the message for a known code.
func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatusCode() > 0 {
		return sc.HTTPStatusCode()
	}

	return extractStatusCode(err.Error())
}

// statusCodePattern only accepts a code that follows an HTTP/status/code
// marker, so "processed 503 records" is not mistaken for a status.
var statusCodePattern = regexp.MustCompile(`(?i)\b(?:http|status(?: code)?|code)[:\s]+([1-5]\d{2})\b`)

func extractStatusCode(errStr string) int {
	m := statusCodePattern.FindStringSubmatch(errStr)
	if len(m) < 2 {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// endpointHost reduces an endpoint to its host so error text never carries
// a full URL with path or query.
func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

// ClassifyError categorizes an error and returns a structured Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	newErr := func(t ErrorType, msg string, retryable bool) *Error {
		e := NewError(t, msg, retryable, err)
		e.StatusCode = statusCodeOf(err)
		return e
	}

	// A canceled caller is not a provider failure and must not be retried.
	if errors.Is(err, context.Canceled) || strings.Contains(strings.ToLower(err.Error()), "context canceled") {
		return newErr(ErrorTypeEndpoint, "request cancelled", false)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newErr(ErrorTypeEndpoint, "request timeout", true)
	}

	status := statusCodeOf(err)
	lower := strings.ToLower(err.Error())

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return newErr(ErrorTypeAuth, "authentication failed", false)
	case strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return newErr(ErrorTypeModel, "model not found", false)
	case status == http.StatusNotFound:
		return newErr(ErrorTypeEndpoint, "endpoint not found", false)
	case status == http.StatusTooManyRequests || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests"):
		return newErr(ErrorTypeRateLimit, "rate limited", true)
	case status >= 500:
		return newErr(ErrorTypeEndpoint, "server error", true)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return newErr(ErrorTypeEndpoint, "connection failed", true)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return newErr(ErrorTypeEndpoint, "request timeout", true)
	default:
		return newErr(ErrorTypeUnknown, "llm error", false)
	}
}
