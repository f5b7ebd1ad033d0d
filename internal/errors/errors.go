package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a rulesync error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrForbidden          ErrorCode = "FORBIDDEN"           // 403
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrNoWorkspace        ErrorCode = "NO_WORKSPACE"        // 412
	ErrCancelled          ErrorCode = "CANCELLED"           // 499
	ErrWrite              ErrorCode = "WRITE_ERROR"         // 500
	ErrInternal           ErrorCode = "INTERNAL"            // 500
	ErrRemote             ErrorCode = "REMOTE_ERROR"        // 502
	ErrDecode             ErrorCode = "DECODE_ERROR"        // 502
	ErrNetwork            ErrorCode = "NETWORK_ERROR"       // 503
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE" // 503
	ErrLocalSourceEmpty   ErrorCode = "LOCAL_SOURCE_EMPTY"  // degraded, never surfaced
)

// RulesError represents a structured error with code, status, and details.
// Cause holds the underlying error, if any, and is reachable through errors.Unwrap.
type RulesError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *RulesError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RulesError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *RulesError {
	return &RulesError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewForbidden creates a 403 error for requests refused on origin.
func NewForbidden(msg string) *RulesError {
	return &RulesError{
		Code:    ErrForbidden,
		Status:  403,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a rule cannot be found by slug.
func NewNotFound(slug string) *RulesError {
	return &RulesError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("rule not found: %s", slug),
		Details: map[string]any{"slug": slug},
	}
}

// NewNoWorkspace creates a 412 error when no workspace folder is open.
func NewNoWorkspace() *RulesError {
	return &RulesError{
		Code:    ErrNoWorkspace,
		Status:  412,
		Message: "No workspace folder available",
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by its caller.
func NewCancelled(op string) *RulesError {
	return &RulesError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewWrite creates a 500 error when the rule file cannot be written.
func NewWrite(path string, cause error) *RulesError {
	return &RulesError{
		Code:    ErrWrite,
		Status:  500,
		Message: fmt.Sprintf("failed to write %s: %v", path, cause),
		Details: map[string]any{"path": path},
		Cause:   cause,
	}
}

// NewRemote creates a 502 error for a non-success response from the catalogue endpoint.
func NewRemote(status int) *RulesError {
	return &RulesError{
		Code:    ErrRemote,
		Status:  502,
		Message: fmt.Sprintf("remote catalogue returned status %d", status),
		Details: map[string]any{"status": status},
	}
}

// NewDecode creates a 502 error when a catalogue payload is not a valid rule array.
func NewDecode(cause error) *RulesError {
	return &RulesError{
		Code:    ErrDecode,
		Status:  502,
		Message: fmt.Sprintf("invalid catalogue payload: %v", cause),
		Cause:   cause,
	}
}

// NewNetwork creates a 503 error for transport failures.
func NewNetwork(cause error) *RulesError {
	return &RulesError{
		Code:    ErrNetwork,
		Status:  503,
		Message: fmt.Sprintf("network error: %v", cause),
		Cause:   cause,
	}
}

// NewStorageUnavailable creates a 503 error for persistent cache faults.
func NewStorageUnavailable(cause error) *RulesError {
	return &RulesError{
		Code:    ErrStorageUnavailable,
		Status:  503,
		Message: fmt.Sprintf("storage unavailable: %v", cause),
		Cause:   cause,
	}
}

// NewLocalSourceEmpty reports that the bundled catalogue yielded no rules.
func NewLocalSourceEmpty(dir string) *RulesError {
	return &RulesError{
		Code:    ErrLocalSourceEmpty,
		Status:  204,
		Message: fmt.Sprintf("bundled catalogue is empty or missing: %s", dir),
		Details: map[string]any{"dir": dir},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *RulesError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &RulesError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if err, or any error it wraps, is a RulesError with the given code.
func Is(err error, code ErrorCode) bool {
	if rErr, ok := As(err); ok {
		return rErr.Code == code
	}
	return false
}

// As returns the first RulesError in err's chain.
func As(err error) (*RulesError, bool) {
	var rErr *RulesError
	if stderrors.As(err, &rErr) {
		return rErr, true
	}
	return nil, false
}
