// Package errors provides the process-scoped error taxonomy: structured
// errors surfaced over HTTP and at startup. Device-scoped failures use the
// separate five-cause enum in the driver package and never
// become a ServiceError — a device going offline is an event, not a fault.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Configuration errors (1xxx) — fatal at startup, non-fatal on reload.
	ErrCodeConfigInvalid     ErrorCode = "CFG_1001"
	ErrCodeUnknownDriver     ErrorCode = "CFG_1002"
	ErrCodeSecretUnresolved  ErrorCode = "CFG_1003"
	ErrCodeDuplicateID       ErrorCode = "CFG_1004"

	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeOutOfRange       ErrorCode = "VAL_3003"

	// Resource errors (4xxx)
	ErrCodeNotFound          ErrorCode = "RES_4001"
	ErrCodeAlreadyAcked      ErrorCode = "RES_4002"
	ErrCodeConflict          ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeUnavailable       ErrorCode = "SVC_5002"
	ErrCodeTimeout           ErrorCode = "SVC_5003"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5004"
)

// ServiceError represents a structured error with a stable code, an HTTP
// status, and JSON-serializable, already-redacted details.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Configuration errors

func ConfigInvalid(path string, err error) *ServiceError {
	return Wrap(ErrCodeConfigInvalid, "configuration invalid", http.StatusBadRequest, err).
		WithDetails("path", path)
}

func UnknownDriver(driver string) *ServiceError {
	return New(ErrCodeUnknownDriver, "unknown driver", http.StatusBadRequest).
		WithDetails("driver", driver)
}

func SecretUnresolved(name string) *ServiceError {
	return New(ErrCodeSecretUnresolved, "secret reference could not be resolved", http.StatusBadRequest).
		WithDetails("name", name)
}

func DuplicateID(id string) *ServiceError {
	return New(ErrCodeDuplicateID, "duplicate device id", http.StatusConflict).
		WithDetails("id", id)
}

// Validation errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyAcknowledged(seq uint64) *ServiceError {
	return New(ErrCodeAlreadyAcked, "event already acknowledged", http.StatusConflict).
		WithDetails("sequence", seq)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Service errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func Unavailable(message string) *ServiceError {
	return New(ErrCodeUnavailable, message, http.StatusServiceUnavailable)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(tool string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("tool", tool)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
