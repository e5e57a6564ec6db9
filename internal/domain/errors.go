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

	// Dependency names the external collaborator that failed (embedding,
	// generation, retrieval, session_store). Empty for local errors.
	Dependency string
	// UpstreamStatus is the HTTP status reported by the dependency, 0 if unknown.
	UpstreamStatus int
}

// Error implements the error interface
func (e *DomainError) Error() string {
	prefix := e.Code
	if e.Dependency != "" {
		prefix = e.Code + " " + e.Dependency
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code and dependency so sentinel values
// work with errors.Is even when wrapped with a cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Dependency == t.Dependency
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// NewDependencyError creates an error attributed to an external collaborator.
func NewDependencyError(code, dependency string, upstreamStatus int, err error) *DomainError {
	return &DomainError{
		Code:           code,
		Message:        dependency + " unavailable",
		Err:            err,
		Dependency:     dependency,
		UpstreamStatus: upstreamStatus,
	}
}

// AsDomainError extracts a DomainError from an error chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Common domain error codes
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeEmbeddingUnavailable = "EMBEDDING_UNAVAILABLE"
	ErrCodeGenerationFailed     = "GENERATION_UNAVAILABLE"
	ErrCodeRetrievalFailed      = "RETRIEVAL_FAILED"
	ErrCodeConfiguration        = "CONFIGURATION_ERROR"
	ErrCodeTimeout              = "TIMEOUT"
)

// Dependency names used in DomainError.Dependency.
const (
	DependencyEmbedding    = "embedding"
	DependencyGeneration   = "generation"
	DependencyRetrieval    = "retrieval"
	DependencySessionStore = "session_store"
)

// Validation errors
var (
	ErrMissingQuery      = NewDomainError(ErrCodeValidation, "query is required")
	ErrQueryTooLong      = NewDomainError(ErrCodeValidation, "query exceeds maximum length")
	ErrInvalidWeights    = NewDomainError(ErrCodeValidation, "weights must be finite, non-negative and not all zero")
	ErrInvalidRole       = NewDomainError(ErrCodeValidation, "invalid session turn role")
	ErrInvalidSessionID  = NewDomainError(ErrCodeValidation, "invalid session id")
	ErrMissingAnswerID   = NewDomainError(ErrCodeValidation, "answer_id is required")
	ErrMissingText       = NewDomainError(ErrCodeValidation, "text is required")
	ErrInvalidPagination = NewDomainError(ErrCodeValidation, "invalid pagination cursor")
)

// Not found errors
var (
	ErrAnswerNotFound = NewDomainError(ErrCodeNotFound, "answer not found")
)

// Authorization errors
var (
	ErrInvalidAdminToken = NewDomainError(ErrCodeUnauthorized, "invalid admin token")
)

// Dependency errors, matched with errors.Is.
var (
	ErrEmbeddingUnavailable  = &DomainError{Code: ErrCodeEmbeddingUnavailable, Message: "embedding unavailable", Dependency: DependencyEmbedding}
	ErrGenerationUnavailable = &DomainError{Code: ErrCodeGenerationFailed, Message: "generation unavailable", Dependency: DependencyGeneration}
	ErrRetrievalFailed       = &DomainError{Code: ErrCodeRetrievalFailed, Message: "retrieval unavailable", Dependency: DependencyRetrieval}
)
