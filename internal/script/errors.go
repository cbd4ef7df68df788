package script

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes script errors.
type ErrorCode string

const (
	// ErrCodeSourceUnavailable indicates the source could not be resolved or read.
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"

	// ErrCodeCompile indicates a syntax error in the script.
	ErrCodeCompile ErrorCode = "COMPILE_ERROR"

	// ErrCodeNoSuchFunction indicates an invoked function was never defined.
	ErrCodeNoSuchFunction ErrorCode = "NO_SUCH_FUNCTION"

	// ErrCodeScriptRuntime indicates the script raised while executing.
	ErrCodeScriptRuntime ErrorCode = "SCRIPT_RUNTIME"

	// ErrCodeAlreadyRunning indicates Run was called on a running script.
	ErrCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"

	// ErrCodeDiscarded indicates the script or its engine was discarded.
	ErrCodeDiscarded ErrorCode = "DISCARDED"
)

// Error is returned by Engine implementations and Script operations.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Script is the script id or filename, when known.
	Script string

	// Line is the 1-based source line, or 0 when unavailable.
	Line int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Script != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Code, e.Script, e.Message)
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// LineOf returns the source line of the first *Error in err's chain, or 0.
func LineOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Line
	}
	return 0
}

// IsSourceUnavailable reports whether err is a source resolution failure.
func IsSourceUnavailable(err error) bool { return CodeOf(err) == ErrCodeSourceUnavailable }

// IsCompileError reports whether err is a compile failure.
func IsCompileError(err error) bool { return CodeOf(err) == ErrCodeCompile }

// IsNoSuchFunction reports whether err names an undefined function.
func IsNoSuchFunction(err error) bool { return CodeOf(err) == ErrCodeNoSuchFunction }

// IsScriptRuntime reports whether err was raised by script code.
func IsScriptRuntime(err error) bool { return CodeOf(err) == ErrCodeScriptRuntime }

// IsAlreadyRunning reports whether err rejects a second Run.
func IsAlreadyRunning(err error) bool { return CodeOf(err) == ErrCodeAlreadyRunning }

// IsDiscarded reports whether err rejects use of a discarded script.
func IsDiscarded(err error) bool { return CodeOf(err) == ErrCodeDiscarded }

// NewSourceUnavailable wraps a resolution or read failure.
func NewSourceUnavailable(name string, err error) *Error {
	return &Error{
		Code:    ErrCodeSourceUnavailable,
		Message: "source unavailable",
		Script:  name,
		Err:     err,
	}
}

// NewCompileError reports a syntax error at line (0 if unknown).
func NewCompileError(name, message string, line int, err error) *Error {
	return &Error{
		Code:    ErrCodeCompile,
		Message: message,
		Script:  name,
		Line:    line,
		Err:     err,
	}
}

// NewNoSuchFunction reports an undefined function.
func NewNoSuchFunction(name, fn string) *Error {
	return &Error{
		Code:    ErrCodeNoSuchFunction,
		Message: fmt.Sprintf("function %q is not defined", fn),
		Script:  name,
	}
}

// NewRuntimeError reports an error raised by script code.
func NewRuntimeError(name, message string, line int, err error) *Error {
	return &Error{
		Code:    ErrCodeScriptRuntime,
		Message: message,
		Script:  name,
		Line:    line,
		Err:     err,
	}
}

// NewDiscardedError rejects use of a discarded script.
func NewDiscardedError(name string) *Error {
	return &Error{
		Code:    ErrCodeDiscarded,
		Message: "script has been discarded",
		Script:  name,
	}
}
