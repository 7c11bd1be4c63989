// Package errors defines the service error taxonomy shared by the grants UI.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// CodeIdentity means a SessionKey could not be derived from the request.
	CodeIdentity ErrorCode = "IDENTITY_ERROR"
	// CodeFormat means a SessionKey string was malformed.
	CodeFormat ErrorCode = "FORMAT_ERROR"
	// CodeBackend means the state backend or GAS returned non-2xx or timed out.
	CodeBackend ErrorCode = "BACKEND_ERROR"
	// CodeConfig means a secret needed to sign or encrypt is missing.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	CodeRateLimited  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is a typed error carrying an HTTP mapping and optional details.
type ServiceError struct {
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

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail field and returns the same error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// UpstreamStatus returns the HTTP status reported by the upstream service
// for backend errors, or 0 when none was received.
func (e *ServiceError) UpstreamStatus() int {
	if e.Details == nil {
		return 0
	}
	if s, ok := e.Details["status"].(int); ok {
		return s
	}
	return 0
}

// GetServiceError unwraps err to a *ServiceError, or returns nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// IsCode reports whether err is a ServiceError with the given code.
func IsCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// =============================================================================
// Constructors
// =============================================================================

// Identity reports a missing or malformed applicant identity.
func Identity(message string) *ServiceError {
	return &ServiceError{Code: CodeIdentity, Message: message, HTTPStatus: http.StatusInternalServerError}
}

// Format reports a malformed SessionKey string.
func Format(message string) *ServiceError {
	return &ServiceError{Code: CodeFormat, Message: message, HTTPStatus: http.StatusInternalServerError}
}

// Backend reports a failed backend call. status is 0 when no response was received.
func Backend(message string, status int, err error) *ServiceError {
	se := &ServiceError{Code: CodeBackend, Message: message, HTTPStatus: http.StatusBadGateway, Err: err}
	return se.WithDetails("status", status)
}

// Config reports a missing secret or setting.
func Config(setting string) *ServiceError {
	se := &ServiceError{
		Code:       CodeConfig,
		Message:    fmt.Sprintf("%s is not configured", setting),
		HTTPStatus: http.StatusInternalServerError,
	}
	return se.WithDetails("setting", setting)
}

func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

func InvalidToken(err error) *ServiceError {
	return &ServiceError{Code: CodeInvalidToken, Message: "Invalid or expired token", HTTPStatus: http.StatusUnauthorized, Err: err}
}

func Validation(field, reason string) *ServiceError {
	se := &ServiceError{Code: CodeValidation, Message: fmt.Sprintf("invalid %s", field), HTTPStatus: http.StatusBadRequest}
	return se.WithDetails("reason", reason)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	se := &ServiceError{Code: CodeRateLimited, Message: "Rate limit exceeded", HTTPStatus: http.StatusTooManyRequests}
	return se.WithDetails("limit", limit).WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}
