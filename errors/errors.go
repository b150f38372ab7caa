package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the unified error type carried through futures and streams.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, ErrCancelled) matches any cancellation error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// ErrCancelled is the sentinel matched by every cancellation error.
var ErrCancelled = &AppError{
	Code: ErrCodeCancelled, Message: "The operation was cancelled.",
	HTTPStatus: 499,
}

// IsCancelled reports whether err is (or wraps) a cancellation error.
func IsCancelled(err error) bool {
	return stderrors.Is(err, ErrCancelled)
}

// --- Engine constructors ---

// Cancelled creates a cancellation error naming the interrupted operation.
func Cancelled(operation string) *AppError {
	return &AppError{
		Code: ErrCodeCancelled, Message: "The operation was cancelled.",
		HTTPStatus: 499, Details: map[string]any{"operation": operation},
	}
}

// SourceFailed wraps an upstream failure that terminated a stream.
func SourceFailed(source string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeSourceFailed, Message: fmt.Sprintf("Reading from %s failed.", source),
		HTTPStatus: http.StatusBadGateway, Details: map[string]any{"source": source}, Cause: cause,
	}
}

// SchemaFailed wraps a failure to resolve the columns of a stream.
func SchemaFailed(cause error) *AppError {
	return &AppError{
		Code: ErrCodeSchemaFailed, Message: "The columns of the dataset could not be determined.",
		HTTPStatus: http.StatusUnprocessableEntity, Cause: cause,
	}
}

// CacheFailed wraps a failed cache materialization.
func CacheFailed(key string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeCacheFailed, Message: "The dataset could not be cached.",
		HTTPStatus: http.StatusInternalServerError, Retryable: true,
		Details: map[string]any{"key": key}, Cause: cause,
	}
}

// InvalidURL creates the per-row error recorded by the crawl step.
func InvalidURL(raw string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidURL, Message: "Invalid URL",
		HTTPStatus: http.StatusBadRequest, Details: map[string]any{"url": raw},
	}
}

// UnknownColumn creates an error for a column reference that does not resolve.
func UnknownColumn(column string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownColumn, Message: fmt.Sprintf("Column %q does not exist.", column),
		HTTPStatus: http.StatusUnprocessableEntity, Details: map[string]any{"column": column},
	}
}

// UnknownChain creates an error for a chain id that is not registered.
func UnknownChain(id string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownChain, Message: fmt.Sprintf("Chain %q is not registered.", id),
		HTTPStatus: http.StatusNotFound, Details: map[string]any{"chain": id},
	}
}

// InvalidConfig creates an error for invalid step or engine configuration.
func InvalidConfig(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("Invalid configuration: %s", reason),
		HTTPStatus: http.StatusBadRequest, Details: details,
	}
}

// --- Common constructors ---

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Details: details,
	}
}

// ConnectionFailed creates a new AppError for a failed connection to a host.
func ConnectionFailed(host string) *AppError {
	return &AppError{
		Code: ErrCodeConnectionFailed, Message: fmt.Sprintf("Unable to connect to %s.", host),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"host": host},
	}
}

// Timeout creates a new AppError for an operation that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The request took too long.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// RateLimited creates a new AppError for too many requests.
func RateLimited() *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: "Too many requests.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
	}
}

// ExternalServiceError creates a new AppError for an error from an external service.
func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeExternalService, Message: fmt.Sprintf("The %s service encountered an error.", service),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"service": service}, Cause: cause,
	}
}

// DatabaseError creates a new AppError for a cache store error.
func DatabaseError(cause error) *AppError {
	return &AppError{
		Code: ErrCodeDatabaseError, Message: "A cache store error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: true, Cause: cause,
	}
}

// Internal creates a new AppError for an unexpected failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Cause: cause,
	}
}
