// Package errors provides the structured error type used across cloudfile, with error codes,
// categories, retry hints and a preserved cause chain.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cloudfile operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeUnknownSite      ErrorCode = "CONFIG_UNKNOWN_SITE"

	// Connection
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Remote storage
	ErrCodeRemoteStatus  ErrorCode = "REMOTE_STATUS"
	ErrCodeRemoteDecode  ErrorCode = "REMOTE_DECODE"
	ErrCodeAccessDenied  ErrorCode = "ACCESS_DENIED"
	ErrCodeThrottled     ErrorCode = "REMOTE_THROTTLED"
	ErrCodeStorageRead   ErrorCode = "STORAGE_READ"
	ErrCodeObjectExists  ErrorCode = "OBJECT_EXISTS"
	ErrCodeRemoteGeneral ErrorCode = "REMOTE_ERROR"
	ErrCodeCircuitOpen   ErrorCode = "REMOTE_CIRCUIT_OPEN"

	// Filesystem semantics
	ErrCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrCodePathInvalid  ErrorCode = "PATH_INVALID"

	// Local cache
	ErrCodeCacheIO      ErrorCode = "CACHE_IO"
	ErrCodeCacheCorrupt ErrorCode = "CACHE_CORRUPT"

	// Background queue
	ErrCodeQueueDisabled ErrorCode = "QUEUE_DISABLED"
	ErrCodeQueueTimeout  ErrorCode = "QUEUE_TIMEOUT"
	ErrCodeQueueShutdown ErrorCode = "QUEUE_SHUTDOWN"
	ErrCodeItemAbandoned ErrorCode = "QUEUE_ITEM_ABANDONED"

	// Operation
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Authentication
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeCredentialsMissing   ErrorCode = "CREDENTIALS_MISSING"

	// Internal
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
	ErrCodeUnknownError   ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryRemote        ErrorCategory = "remote"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryCache         ErrorCategory = "cache"
	CategoryQueue         ErrorCategory = "queue"
	CategoryOperation     ErrorCategory = "operation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

// CloudFileError represents a structured error with context and metadata.
type CloudFileError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Retryable marks the error as transient regardless of its code.
	Retryable bool `json:"retryable"`
	// StatusCode is the remote HTTP status when the error came from a response.
	StatusCode int `json:"status_code,omitempty"`
}

// Error implements the error interface.
func (e *CloudFileError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *CloudFileError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CloudFileError with the same code.
func (e *CloudFileError) Is(target error) bool {
	if t, ok := target.(*CloudFileError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *CloudFileError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("Status=%d", e.StatusCode))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CloudFileError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with default values derived from the code.
func NewError(code ErrorCode, message string) *CloudFileError {
	return &CloudFileError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new error with the given code and cause.
func Wrap(code ErrorCode, message string, cause error) *CloudFileError {
	return NewError(code, message).WithCause(cause)
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CloudFileError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "CONFIG_") || s == string(ErrCodeInvalidConfig):
		return CategoryConfiguration
	case strings.HasPrefix(s, "CONNECTION_") || strings.HasPrefix(s, "NETWORK_"):
		return CategoryConnection
	case strings.HasPrefix(s, "REMOTE_") || strings.HasPrefix(s, "STORAGE_") ||
		strings.HasPrefix(s, "ACCESS_") || strings.HasPrefix(s, "OBJECT_"):
		return CategoryRemote
	case strings.HasPrefix(s, "FILE_") || strings.HasPrefix(s, "PATH_"):
		return CategoryFilesystem
	case strings.HasPrefix(s, "CACHE_"):
		return CategoryCache
	case strings.HasPrefix(s, "QUEUE_"):
		return CategoryQueue
	case strings.HasPrefix(s, "OPERATION_") || strings.HasPrefix(s, "RETRY_") ||
		strings.HasPrefix(s, "VALIDATION_"):
		return CategoryOperation
	case strings.HasPrefix(s, "AUTHENTICATION_") || strings.HasPrefix(s, "CREDENTIALS_"):
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether errors with code are transient by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError,
		ErrCodeOperationTimeout, ErrCodeOperationCanceled, ErrCodeThrottled:
		return true
	}
	return false
}

// WithContext adds contextual information to an error.
func (e *CloudFileError) WithContext(key, value string) *CloudFileError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *CloudFileError) WithDetail(key string, value interface{}) *CloudFileError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *CloudFileError) WithComponent(component string) *CloudFileError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *CloudFileError) WithOperation(operation string) *CloudFileError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *CloudFileError) WithCause(cause error) *CloudFileError {
	e.Cause = cause
	return e
}

// WithStatus records the remote status code.
func (e *CloudFileError) WithStatus(status int) *CloudFileError {
	e.StatusCode = status
	return e
}

// WithRetryable overrides the retry hint.
func (e *CloudFileError) WithRetryable(retryable bool) *CloudFileError {
	e.Retryable = retryable
	return e
}

// As finds the first CloudFileError in err's chain.
func As(err error) (*CloudFileError, bool) {
	var cfErr *CloudFileError
	if stderrors.As(err, &cfErr) {
		return cfErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first CloudFileError in err's chain, or ErrCodeUnknownError.
func CodeOf(err error) ErrorCode {
	if cfErr, ok := As(err); ok {
		return cfErr.Code
	}
	return ErrCodeUnknownError
}

// HasCode reports whether any CloudFileError in err's tree carries code.
func HasCode(err error, code ErrorCode) bool {
	return walk(err, func(e *CloudFileError) bool { return e.Code == code })
}

// IsNotFound reports whether err denotes a missing file.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeFileNotFound)
}

// IsTimeout reports whether err is a queue or operation timeout.
func IsTimeout(err error) bool {
	return HasCode(err, ErrCodeQueueTimeout) || HasCode(err, ErrCodeOperationTimeout)
}

// IsPermanentByDefault reports whether errors with code never succeed on
// retry, whatever their message says.
func IsPermanentByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeFileNotFound, ErrCodePathInvalid, ErrCodeAccessDenied,
		ErrCodeValidationFailed, ErrCodeCredentialsMissing, ErrCodeAuthenticationFailed,
		ErrCodeObjectExists, ErrCodeCircuitOpen, ErrCodeInvalidConfig, ErrCodeConfigValidation:
		return true
	}
	return false
}

// IsPermanent reports whether any CloudFileError in err's tree carries a
// permanent code.
func IsPermanent(err error) bool {
	return walk(err, func(e *CloudFileError) bool { return IsPermanentByDefault(e.Code) })
}

// StatusOf returns the first remote HTTP status recorded in err's tree, or 0.
func StatusOf(err error) int {
	status := 0
	walk(err, func(e *CloudFileError) bool {
		status = e.StatusCode
		return status != 0
	})
	return status
}

// IsRetryable reports whether any CloudFileError in err's tree is marked retryable.
func IsRetryable(err error) bool {
	return walk(err, func(e *CloudFileError) bool { return e.Retryable })
}

// walk visits err and its causes depth-first, following joined errors too.
func walk(err error, match func(*CloudFileError) bool) bool {
	if err == nil {
		return false
	}
	if cfErr, ok := err.(*CloudFileError); ok && match(cfErr) {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if walk(inner, match) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return walk(u.Unwrap(), match)
	}
	return false
}

// Root returns the innermost error in err's chain.
func Root(err error) error {
	for {
		next := stderrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
