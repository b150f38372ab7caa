package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Transport errors raised by I/O collaborators (retryable).
const (
	// ErrCodeConnectionFailed indicates a failed connection to a remote host.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimited indicates the remote service or a local limiter refused the call.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeExternalService indicates an error from an external service.
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	// ErrCodeDatabaseError indicates a cache store error.
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
)

// Engine errors.
const (
	// ErrCodeCancelled indicates the governing job was cancelled before a result was produced.
	ErrCodeCancelled ErrorCode = "CANCELLED"
	// ErrCodeSourceFailed indicates an upstream stream failed while producing rows.
	ErrCodeSourceFailed ErrorCode = "SOURCE_FAILED"
	// ErrCodeSchemaFailed indicates column resolution failed.
	ErrCodeSchemaFailed ErrorCode = "SCHEMA_FAILED"
	// ErrCodeCacheFailed indicates the cache materialization failed.
	ErrCodeCacheFailed ErrorCode = "CACHE_FAILED"
)

// Input errors.
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInvalidConfig indicates a step or engine configuration is invalid.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeInvalidURL indicates a row value could not be parsed as a URL.
	ErrCodeInvalidURL ErrorCode = "INVALID_URL"
	// ErrCodeUnknownColumn indicates a referenced column does not exist upstream.
	ErrCodeUnknownColumn ErrorCode = "UNKNOWN_COLUMN"
	// ErrCodeUnknownChain indicates a chain id that is not registered.
	ErrCodeUnknownChain ErrorCode = "UNKNOWN_CHAIN"
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// ErrCodeInternal indicates an unexpected failure.
const ErrCodeInternal ErrorCode = "INTERNAL_ERROR"

var retryableCodes = map[ErrorCode]bool{
	ErrCodeConnectionFailed: true,
	ErrCodeTimeout:          true,
	ErrCodeRateLimited:      true,
	ErrCodeDatabaseError:    true,
	ErrCodeExternalService:  true,
	ErrCodeCacheFailed:      true,
	ErrCodeInternal:         false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
