package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Transient marks errors worth retrying (gateway timeouts), as
	// opposed to hard rejections (card declined).
	Transient bool `json:"transient,omitempty"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// IsTransient reports whether the error is retryable
func (e *DomainError) IsTransient() bool {
	return e.Transient
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewTransientError creates a domain error flagged as retryable
func NewTransientError(code, message string) *DomainError {
	return &DomainError{
		Code:      code,
		Message:   message,
		Transient: true,
	}
}

// AsDomainError unwraps err to a DomainError if possible
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ErrorCode returns the domain error code, or empty for non-domain errors
func ErrorCode(err error) string {
	if de, ok := AsDomainError(err); ok {
		return de.Code
	}
	return ""
}

// IsTransientError reports whether err is a retryable domain error
func IsTransientError(err error) bool {
	de, ok := AsDomainError(err)
	return ok && de.Transient
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)
