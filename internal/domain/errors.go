package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeDegraded      = "DEGRADED"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidQuery         = NewDomainError(ErrCodeValidation, "search query must not be empty")
	ErrScopeRequired        = NewDomainError(ErrCodeValidation, "owner scope is required")
	ErrInvalidSearchMode    = NewDomainError(ErrCodeValidation, "invalid search mode")
	ErrInvalidItemType      = NewDomainError(ErrCodeValidation, "invalid item type")
	ErrInvalidFieldKind     = NewDomainError(ErrCodeValidation, "invalid embedding field kind")
	ErrInvalidJobStatus     = NewDomainError(ErrCodeValidation, "invalid index job status")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrItemNotFound = NewDomainError(ErrCodeNotFound, "searchable item not found")
	ErrJobNotFound  = NewDomainError(ErrCodeNotFound, "index job not found")
)

// Availability errors. ErrSemanticSearchUnavailable is returned only when a
// caller explicitly requested mode=semantic and the semantic path failed;
// hybrid requests degrade to keyword results instead of failing.
var (
	ErrSemanticSearchUnavailable = NewDomainError(ErrCodeUnavailable, "semantic search is temporarily unavailable")
	ErrVectorIndexUnavailable    = NewDomainError(ErrCodeUnavailable, "vector index is unreachable")
	ErrKeywordIndexDegraded      = NewDomainError(ErrCodeDegraded, "keyword index query failed")
	ErrRateLimited               = NewDomainError(ErrCodeRateLimited, "embedding provider rate limit exhausted")
)

// IsRetryable reports whether the error represents a transient condition the
// caller may retry.
func IsRetryable(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case ErrCodeUnavailable, ErrCodeRateLimited:
		return true
	}
	return false
}
