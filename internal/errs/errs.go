package errs

import (
	"context"
	"errors"
)

// Code is a runner error code.
type Code string

const (
	Environment       Code = "environment"
	NavigationTimeout Code = "navigation_timeout"
	LocatorNotFound   Code = "locator_not_found"
	StepTimeout       Code = "step_timeout"
	AssertionFailed   Code = "assertion_failed"
	InvalidArgument   Code = "invalid_argument"
	Canceled          Code = "canceled"
	Internal          Code = "internal"
)

// Error is a coded runner error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
// Context cancellation and deadline errors without a typed wrapper map to canceled.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Internal
}

// MessageOf returns the human-readable message of a coded error,
// or the raw error text when there is no typed wrapper.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return err.Error()
}

// IsFailure reports whether the code is a scenario-level failure of the target UI,
// as opposed to an error in the runner or its environment.
func IsFailure(code Code) bool {
	switch code {
	case NavigationTimeout, LocatorNotFound, StepTimeout, AssertionFailed:
		return true
	default:
		return false
	}
}

const (
	ExitPassed  = 0
	ExitFailed  = 1
	ExitErrored = 2
)

// ExitCode maps a code to a process exit status.
func ExitCode(code Code) int {
	if IsFailure(code) {
		return ExitFailed
	}
	return ExitErrored
}
