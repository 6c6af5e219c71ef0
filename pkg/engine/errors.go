package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass says whether a failed cloud call is worth retrying.
type ErrorClass string

const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassThrottled ErrorClass = "throttled"
	// ErrorClassConflict is an ordering problem, such as a resource still
	// referenced by another one. It clears once the referrer is gone.
	ErrorClassConflict  ErrorClass = "conflict"
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the failure reason code, see the ErrCode constants.
	Code string `json:"code,omitempty"`

	// Resource is the resource the error concerns, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// ProviderCode preserves the provider's own error code.
	ProviderCode string `json:"provider_code,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.ProviderCode != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.ProviderCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err, Code: ErrCodeRateLimited}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewStillReferencedError reports a resource that cannot go yet because
// something else still points at it.
func NewStillReferencedError(ref ResourceRef, err error) *EngineError {
	return NewConflictError("resource is still referenced by other resources", err).
		WithCode(ErrCodeStillReferenced).
		WithResource(ref.String())
}

// NewTimeoutError reports a provider that did not reach the expected state in time.
func NewTimeoutError(message string, err error) *EngineError {
	return NewTransientError(message, err).WithCode(ErrCodeTimeout)
}

// NewUnsupportedError reports a resource type the deleter has no branch for.
func NewUnsupportedError(ref ResourceRef) *EngineError {
	return NewPermanentError(fmt.Sprintf("unsupported resource type: %s", ref.Type), nil).
		WithCode(ErrCodeUnsupported).
		WithResource(ref.String())
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithProviderCode records the provider's error code.
func (e *EngineError) WithProviderCode(code string) *EngineError {
	e.ProviderCode = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsRetryable reports whether err is classified as worth another attempt.
// Unclassified errors are not.
func IsRetryable(err error) bool {
	var e *EngineError
	if !errors.As(err, &e) {
		return false
	}
	switch e.Class {
	case ErrorClassTransient, ErrorClassThrottled, ErrorClassConflict:
		return true
	}
	return false
}

// CodeOf returns the EngineError code in err's chain, or "".
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// FailureReason is the user-facing category of a per-resource failure.
type FailureReason string

const (
	ReasonStillReferenced  FailureReason = "still_referenced"
	ReasonTimeout          FailureReason = "timeout"
	ReasonPermissionDenied FailureReason = "permission_denied"
	ReasonUnsupported      FailureReason = "unsupported"
	ReasonProviderRejected FailureReason = "provider_rejected"
	ReasonCancelled        FailureReason = "cancelled"
)

// Reason maps an error to its failure reason.
func Reason(err error) FailureReason {
	if errors.Is(err, context.Canceled) {
		return ReasonCancelled
	}
	switch CodeOf(err) {
	case ErrCodeStillReferenced:
		return ReasonStillReferenced
	case ErrCodeTimeout:
		return ReasonTimeout
	case ErrCodePermissionDenied:
		return ReasonPermissionDenied
	case ErrCodeUnsupported:
		return ReasonUnsupported
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonProviderRejected
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeProviderRejected = "PROVIDER_REJECTED"
	ErrCodeStillReferenced  = "STILL_REFERENCED"
	ErrCodeUnsupported      = "UNSUPPORTED"
	ErrCodeInvalidState     = "INVALID_STATE"
)
