// Package errors defines the typed failures returned by every service
// operation and their HTTP representation.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure independently of its transport status.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindDuplicate      Kind = "duplicate"
	KindConflict       Kind = "conflict"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindRateLimited    Kind = "rate_limited"
	KindInternal       Kind = "internal"
)

// ErrorCode is the stable machine-readable code sent to clients.
type ErrorCode string

const (
	CodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeConflict           ErrorCode = "CONFLICT"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// InvalidCredentialsMessage is returned for every failed login, whatever the cause.
const InvalidCredentialsMessage = "invalid credentials"

// ServiceError is the typed error carried from services to the transport.
type ServiceError struct {
	Kind       Kind
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a detail entry and returns the same error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation reports malformed or out-of-range input. fields maps input field
// names to a human readable message.
func Validation(message string, fields map[string]string) *ServiceError {
	e := newError(KindValidation, CodeValidationFailed, http.StatusBadRequest, message, nil)
	if len(fields) > 0 {
		e.WithDetails("fields", fields)
	}
	return e
}

// Duplicate reports a violated uniqueness constraint such as a taken email.
func Duplicate(message string) *ServiceError {
	return newError(KindDuplicate, CodeDuplicate, http.StatusConflict, message, nil)
}

// Conflict reports a violated cardinality rule such as a second store per owner.
func Conflict(message string) *ServiceError {
	return newError(KindConflict, CodeConflict, http.StatusConflict, message, nil)
}

// Unauthorized reports a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(KindAuthentication, CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a credential that failed signature, expiry or epoch checks.
func InvalidToken(err error) *ServiceError {
	return newError(KindAuthentication, CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

// InvalidCredentials is the single login failure for unknown email and wrong password.
func InvalidCredentials() *ServiceError {
	return newError(KindAuthentication, CodeInvalidCredentials, http.StatusUnauthorized, InvalidCredentialsMessage, nil)
}

// Forbidden reports an authenticated caller whose role is not permitted.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "insufficient permissions"
	}
	return newError(KindAuthorization, CodeForbidden, http.StatusForbidden, message, nil)
}

// NotFound reports a referenced resource that does not exist.
func NotFound(resource string, id interface{}) *ServiceError {
	return newError(KindNotFound, CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(KindRateLimited, CodeRateLimitExceeded, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected fault. The wrapped error is never sent to clients.
func Internal(message string, err error) *ServiceError {
	if message == "" {
		message = "internal server error"
	}
	return newError(KindInternal, CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts the first ServiceError in err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// KindOf returns the kind of err. Untyped errors are internal; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if se := GetServiceError(err); se != nil {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
