package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique identifier for specific error conditions in the runner.
type ErrorCode int

const (
	ErrCodeUnknown        ErrorCode = 1000
	ErrCodeConfigInvalid  ErrorCode = 1001
	ErrCodeAlreadyStarted ErrorCode = 1002

	// Binary discovery and runtime acquisition
	ErrCodeNotFound    ErrorCode = 2001
	ErrCodeAcquisition ErrorCode = 2002

	// Process supervision
	ErrCodeInitialization ErrorCode = 3001
	ErrCodeProcessStart   ErrorCode = 3002
	ErrCodeTimeout        ErrorCode = 3003
	ErrCodeProcessDied    ErrorCode = 3004

	// User commands
	ErrCodeNotReady ErrorCode = 4001
	ErrCodeImport   ErrorCode = 4002
)

// Name returns the short taxonomy name of the code.
func (c ErrorCode) Name() string {
	switch c {
	case ErrCodeConfigInvalid:
		return "ConfigInvalid"
	case ErrCodeAlreadyStarted:
		return "AlreadyStarted"
	case ErrCodeNotFound:
		return "NotFound"
	case ErrCodeAcquisition:
		return "AcquisitionError"
	case ErrCodeInitialization:
		return "InitializationError"
	case ErrCodeProcessStart:
		return "ProcessStartError"
	case ErrCodeTimeout:
		return "Timeout"
	case ErrCodeProcessDied:
		return "ProcessDied"
	case ErrCodeNotReady:
		return "NotReady"
	case ErrCodeImport:
		return "ImportError"
	}
	return "Unknown"
}

// ParseCode maps a taxonomy name back to its code. Unknown names map to
// ErrCodeUnknown.
func ParseCode(name string) ErrorCode {
	for _, c := range []ErrorCode{
		ErrCodeConfigInvalid, ErrCodeAlreadyStarted, ErrCodeNotFound, ErrCodeAcquisition,
		ErrCodeInitialization, ErrCodeProcessStart, ErrCodeTimeout, ErrCodeProcessDied,
		ErrCodeNotReady, ErrCodeImport,
	} {
		if c.Name() == name {
			return c
		}
	}
	return ErrCodeUnknown
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrConfigInvalid  = &RunnerError{Code: ErrCodeConfigInvalid}
	ErrAlreadyStarted = &RunnerError{Code: ErrCodeAlreadyStarted}
	ErrNotFound       = &RunnerError{Code: ErrCodeNotFound}
	ErrAcquisition    = &RunnerError{Code: ErrCodeAcquisition}
	ErrInitialization = &RunnerError{Code: ErrCodeInitialization}
	ErrProcessStart   = &RunnerError{Code: ErrCodeProcessStart}
	ErrTimeout        = &RunnerError{Code: ErrCodeTimeout}
	ErrProcessDied    = &RunnerError{Code: ErrCodeProcessDied}
	ErrNotReady       = &RunnerError{Code: ErrCodeNotReady}
	ErrImport         = &RunnerError{Code: ErrCodeImport}
)

// RunnerError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
type RunnerError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
	// LogTail holds the last lines of the relevant process log, if any.
	LogTail []string
}

// Error returns a formatted string representation of the error.
func (e *RunnerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *RunnerError) Unwrap() error {
	return e.Err
}

// Is matches any RunnerError carrying the same code.
func (e *RunnerError) Is(target error) bool {
	t, ok := target.(*RunnerError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Detail renders the message together with the captured log tail, for display in
// status events.
func (e *RunnerError) Detail() string {
	if len(e.LogTail) == 0 {
		return e.Msg
	}
	return e.Msg + "\n" + strings.Join(e.LogTail, "\n")
}

// New creates a new RunnerError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &RunnerError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// WithLogTail creates a RunnerError that carries the tail of a process log.
func WithLogTail(code ErrorCode, op, msg string, err error, tail []string) error {
	return &RunnerError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
		LogTail:   tail,
	}
}

// CodeOf extracts the code of the first RunnerError in err's chain.
func CodeOf(err error) ErrorCode {
	var re *RunnerError
	if errors.As(err, &re) {
		return re.Code
	}
	return ErrCodeUnknown
}

// Retryable reports whether a fresh launch attempt may succeed. Only acquisition
// failures qualify; nothing is retried automatically within a run.
func Retryable(err error) bool {
	return CodeOf(err) == ErrCodeAcquisition
}

// Describe returns the text shown to users for err: the detailed message with log
// tail for a RunnerError, the plain error text otherwise.
func Describe(err error) string {
	var re *RunnerError
	if errors.As(err, &re) {
		return re.Detail()
	}
	return err.Error()
}

// Personal.AI order the ending
