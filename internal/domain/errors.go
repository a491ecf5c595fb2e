package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError is an error with a stable code that the API, CLI and metrics
// branch on. Two DomainErrors match under errors.Is when their codes do.
type DomainError struct {
	Code    string
	Message string
	Err     error
	// Attempts is the number of backend calls made before a generation error surfaced.
	Attempts int
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString("[" + e.Code + "] " + e.Message)
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error { return e.Err }

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause wraps err under code so errors.Is still reaches err.
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Turn pipeline error codes
const (
	ErrCodeRetrievalUnavailable = "RETRIEVAL_UNAVAILABLE"
	ErrCodeContextOverflow      = "CONTEXT_OVERFLOW"
	ErrCodeGenerationFailed     = "GENERATION_FAILED"
	ErrCodeGenerationRejected   = "GENERATION_REJECTED"
	ErrCodeConsistency          = "CONSISTENCY_VIOLATION"
	ErrCodeCanceled             = "CANCELED"
)

// Validation errors
var (
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidChunk         = NewDomainError(ErrCodeValidation, "invalid chunk")
	ErrWrongDimensions      = NewDomainError(ErrCodeValidation, "embedding has wrong dimensions")
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query text is required")
	ErrDocumentTooLarge     = NewDomainError(ErrCodeValidation, "document exceeds size limit")
)

// Not found errors
var (
	ErrChunkNotFound   = NewDomainError(ErrCodeNotFound, "chunk not found")
	ErrSessionNotFound = NewDomainError(ErrCodeNotFound, "session not found")
	ErrObjectNotFound  = NewDomainError(ErrCodeNotFound, "source object not found")
)

// Already exists errors
var (
	ErrChunkAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "chunk already exists")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Turn errors
var (
	ErrRetrievalUnavailable = NewDomainError(ErrCodeRetrievalUnavailable, "chunk store unavailable")
	ErrContextOverflow      = NewDomainError(ErrCodeContextOverflow, "token budget below minimum viable context size")
	ErrGenerationFailed     = NewDomainError(ErrCodeGenerationFailed, "generation backend failed")
	ErrGenerationRejected   = NewDomainError(ErrCodeGenerationRejected, "generation rejected by content policy")
	ErrConsistencyViolation = NewDomainError(ErrCodeConsistency, "citation references chunk outside assembled context")
	ErrTurnCanceled         = NewDomainError(ErrCodeCanceled, "turn canceled")
)

// NewGenerationFailed reports a transient backend failure that exhausted its retries.
func NewGenerationFailed(attempts int, err error) *DomainError {
	return &DomainError{
		Code:     ErrCodeGenerationFailed,
		Message:  ErrGenerationFailed.Message,
		Err:      err,
		Attempts: attempts,
	}
}

// NewGenerationRejected reports a content-policy rejection from the backend.
func NewGenerationRejected(attempts int, err error) *DomainError {
	return &DomainError{
		Code:     ErrCodeGenerationRejected,
		Message:  ErrGenerationRejected.Message,
		Err:      err,
		Attempts: attempts,
	}
}

// IsRetryable reports whether the caller may retry the same turn later.
func IsRetryable(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case ErrCodeRetrievalUnavailable, ErrCodeGenerationFailed, ErrCodeCanceled:
		return true
	}
	return false
}

// CodeOf returns the domain error code carried by err, or an empty string.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
