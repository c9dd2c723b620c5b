package utils

import (
	"errors"
	"fmt"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Failure taxonomy. Callers branch on these with errors.Is; everything else
// is treated as an internal error.
var (
	// ErrStoreUnavailable signals vector-store backend I/O failure; the gate
	// degrades to "new incident" rather than dropping the event.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrEmbeddingUnavailable signals embedding-service failure; the gate
	// degrades to "new incident".
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrConfigNotFound rejects an event whose scope has no registered
	// application configuration. Surfaced to the caller, never swallowed.
	ErrConfigNotFound = errors.New("application config not found")

	// ErrNotFound signals a missing persisted record (run, feedback target).
	ErrNotFound = errors.New("record not found")

	// ErrModelService signals a reasoning-turn failure; the executor
	// transitions to Aborted and the partial transcript is persisted.
	ErrModelService = errors.New("model service failure")
)

// SourceError marks the failure of a single enrichment source. Transient
// failures (network, timeout) are retried with backoff; permanent ones
// (auth, not-found) are not.
type SourceError struct {
	Source    string
	Transient bool
	Err       error
}

func (e *SourceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("source %s: %s failure: %v", e.Source, kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// TransientSource wraps err as a retryable source failure.
func TransientSource(source string, err error) error {
	return &SourceError{Source: source, Transient: true, Err: err}
}

// PermanentSource wraps err as a non-retryable source failure.
func PermanentSource(source string, err error) error {
	return &SourceError{Source: source, Transient: false, Err: err}
}

// IsTransient reports whether err is a retryable source failure.
func IsTransient(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Transient
}
