package cloud

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pockitect/pockitect/pkg/engine"
)

// APIError is a provider error with its provider code.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode returns the provider code.
func (e *APIError) ErrorCode() string { return e.Code }

// ErrorMessage returns the provider message.
func (e *APIError) ErrorMessage() string { return e.Message }

// NewAPIError creates an APIError.
func NewAPIError(code, format string, args ...interface{}) *APIError {
	return &APIError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type coded interface {
	ErrorCode() string
	ErrorMessage() string
}

// Code returns the provider code carried by err, or "".
func Code(err error) string {
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// IsNotFound reports whether err means the resource is already gone.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var c coded
	if errors.As(err, &c) {
		code := c.ErrorCode()
		if strings.Contains(code, "NotFound") || strings.Contains(code, "NoSuchEntity") ||
			strings.Contains(code, "NoSuchBucket") {
			return true
		}
		if strings.Contains(strings.ToLower(c.ErrorMessage()), "does not exist") {
			return true
		}
	}
	if engine.CodeOf(err) == engine.ErrCodeNotFound {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

// IsDependencyViolation reports whether the provider refused because other
// resources still reference the target.
func IsDependencyViolation(err error) bool {
	code := Code(err)
	return code == "DependencyViolation" || code == "ResourceInUse" ||
		code == "InvalidGroup.InUse" || code == "DeleteConflict"
}

// Classify turns a provider error into a classified engine error for ref
// and op. Nil stays nil and errors already classified pass through.
func Classify(err error, ref engine.ResourceRef, op string) error {
	if err == nil {
		return nil
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return err
	}

	code := Code(err)
	var out *engine.EngineError
	switch {
	case IsNotFound(err):
		out = engine.NewPermanentError("resource not found", err).WithCode(engine.ErrCodeNotFound)
	case code == "UnauthorizedOperation" || strings.HasPrefix(code, "AccessDenied") ||
		code == "AuthFailure" || code == "Forbidden":
		out = engine.NewPermanentError("permission denied", err).WithCode(engine.ErrCodePermissionDenied)
	case IsDependencyViolation(err):
		out = engine.NewStillReferencedError(ref, err)
	case code == "Throttling" || code == "ThrottlingException" || code == "RequestLimitExceeded" ||
		code == "TooManyRequestsException" || code == "SlowDown":
		out = engine.NewThrottledError("provider rate limit", err)
	case code == "IncorrectState" || code == "IncorrectInstanceState" ||
		strings.HasPrefix(code, "InvalidDBInstanceState") || code == "InvalidState":
		out = engine.NewConflictError("resource is in the wrong state", err).WithCode(engine.ErrCodeInvalidState)
	default:
		out = engine.NewPermanentError("provider rejected request", err).WithCode(engine.ErrCodeProviderRejected)
	}

	out = out.WithResource(ref.String()).WithOperation(op)
	if code != "" {
		out = out.WithProviderCode(code)
	}
	return out
}
