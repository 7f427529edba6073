package apperr

import (
	"errors"
	"fmt"
)

// Error kinds shared by every pipeline stage
var (
	// ErrIO marks unreadable or unwritable files
	ErrIO = errors.New("io error")
	// ErrParse marks malformed input content
	ErrParse = errors.New("parse error")
	// ErrDataShape marks missing columns, mismatched lengths or too few rows
	ErrDataShape = errors.New("data shape error")
	// ErrNotFound marks unknown runs, artifacts, models or versions
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a create of a resource that is already present
	ErrAlreadyExists = errors.New("already exists")
	// ErrState marks operations attempted in the wrong lifecycle state
	ErrState = errors.New("invalid state")
	// ErrExternal marks failures of the tracking service or other remote collaborators
	ErrExternal = errors.New("external service error")
	// ErrProcess marks a serving subprocess that failed or answered unhealthy
	ErrProcess = errors.New("process error")
	// ErrTimeout marks a readiness wait that ran out of time
	ErrTimeout = errors.New("timeout")
	// ErrInvalid marks invalid configuration or arguments
	ErrInvalid = errors.New("invalid input")
)

// Error carries a stable code, a human message and the wrapped cause
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements error
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code string, kind error, cause error, format string, args ...any) error {
	err := kind
	if cause != nil {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IO wraps a filesystem failure
func IO(cause error, format string, args ...any) error {
	return newError("IO_ERROR", ErrIO, cause, format, args...)
}

// Parse reports malformed content
func Parse(cause error, format string, args ...any) error {
	return newError("PARSE_ERROR", ErrParse, cause, format, args...)
}

// DataShape reports a dataset that does not have the expected shape
func DataShape(format string, args ...any) error {
	return newError("DATA_SHAPE", ErrDataShape, nil, format, args...)
}

// NotFound reports a missing resource
func NotFound(resourceType, name string) error {
	return newError("NOT_FOUND", ErrNotFound, nil, "%s '%s' not found", resourceType, name)
}

// AlreadyExists reports a duplicate resource
func AlreadyExists(resourceType, name string) error {
	return newError("ALREADY_EXISTS", ErrAlreadyExists, nil, "%s '%s' already exists", resourceType, name)
}

// State reports an operation attempted in the wrong state
func State(format string, args ...any) error {
	return newError("INVALID_STATE", ErrState, nil, format, args...)
}

// External wraps a failure talking to a remote service
func External(cause error, format string, args ...any) error {
	return newError("EXTERNAL", ErrExternal, cause, format, args...)
}

// Process reports a failed serving subprocess
func Process(cause error, format string, args ...any) error {
	return newError("PROCESS", ErrProcess, cause, format, args...)
}

// Timeout reports an exhausted wait
func Timeout(format string, args ...any) error {
	return newError("TIMEOUT", ErrTimeout, nil, format, args...)
}

// Invalid reports bad configuration or arguments
func Invalid(format string, args ...any) error {
	return newError("INVALID_INPUT", ErrInvalid, nil, format, args...)
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is a duplicate resource error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsState reports whether err is a state error
func IsState(err error) bool {
	return errors.Is(err, ErrState)
}

// IsTimeout reports whether err is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsDataShape reports whether err is a data shape error
func IsDataShape(err error) bool {
	return errors.Is(err, ErrDataShape)
}
