package embedding

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an embedding provider failure
type ErrorKind string

const (
	KindRateLimited         ErrorKind = "rate_limited"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindTimeout             ErrorKind = "timeout"
	KindInvalidInput        ErrorKind = "invalid_input"
)

var (
	// ErrEmptyBatch is returned when Embed is called with no texts
	ErrEmptyBatch = errors.New("embedding batch cannot be empty")
	// ErrEmptyText is returned when a text in the batch is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when a vector has unexpected dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when no embedding API key is configured
	ErrNoAPIKey = errors.New("embedding API key not set")
)

// Error is the typed failure returned by the embedding client after its
// retry budget is spent. Callers switch on Kind, never on provider strings.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("embedding %s", e.Kind)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later identical call may succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindInvalidInput
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// IsKind reports whether err is an embedding Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
