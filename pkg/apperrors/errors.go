package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrSyncInProgress = errors.New("sanctions sync already in progress")
	ErrNoEntries      = errors.New("source document contains no entries")
)

// NetworkError is returned when the sanctions source cannot be reached
// (timeout, refused connection, TLS failure, truncated body).
type NetworkError struct {
	URL   string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// IsRetryable implements retry.RetryableError.
func (e *NetworkError) IsRetryable() bool { return true }

// HTTPError is returned when the sanctions source answers with a non-2xx status.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("source %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("source %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsRetryable reports whether the status is worth retrying (429 and 5xx).
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// ParseError is returned when the source document cannot be parsed at all.
// Individual malformed records are skipped and do not produce a ParseError.
type ParseError struct {
	Offset int64
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("parse sanctions document at offset %d: %v", e.Offset, e.Cause)
	}
	return fmt.Sprintf("parse sanctions document: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// StoreError wraps a failed entity store operation. The prior dataset is
// always left intact when a StoreError is returned from a replace.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("entity store %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// EmbeddingError describes a failed embedding call for a set of texts.
// Backfill logs and skips these.
type EmbeddingError struct {
	Items int
	Cause error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %d item(s): %v", e.Items, e.Cause)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

// MatchStageError reports that a single ranking stage failed. The match
// engine falls through to the next stage when it sees one.
type MatchStageError struct {
	Stage string
	Cause error
}

func (e *MatchStageError) Error() string {
	return fmt.Sprintf("match stage %s failed: %v", e.Stage, e.Cause)
}

func (e *MatchStageError) Unwrap() error { return e.Cause }

// NewMatchStageError wraps cause as a failure of the named stage.
func NewMatchStageError(stage string, cause error) *MatchStageError {
	return &MatchStageError{Stage: stage, Cause: cause}
}
