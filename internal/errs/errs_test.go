package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	Environment,
	NavigationTimeout,
	LocatorNotFound,
	StepTimeout,
	AssertionFailed,
	InvalidArgument,
	Canceled,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error must unwrap to its cause")
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func TestCodeOf_ContextErrorsAreCanceled(t *testing.T) {
	t.Parallel()
	for _, err := range []error{context.Canceled, context.DeadlineExceeded, fmt.Errorf("step: %w", context.Canceled)} {
		if got := CodeOf(err); got != Canceled {
			t.Fatalf("CodeOf(%v) = %q, want %q", err, got, Canceled)
		}
	}
	if got := CodeOf(errors.New("boom")); got != Internal {
		t.Fatalf("CodeOf(untyped) = %q, want %q", got, Internal)
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) = %q, want %q", got, Internal)
	}
}

func testExitCode_FailuresAndErrorsAreDistinct(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	got := ExitCode(code)
	if IsFailure(code) && got != ExitFailed {
		t.Fatalf("ExitCode(%q) = %d, want %d", code, got, ExitFailed)
	}
	if !IsFailure(code) && got != ExitErrored {
		t.Fatalf("ExitCode(%q) = %d, want %d", code, got, ExitErrored)
	}
	if got == ExitPassed {
		t.Fatalf("ExitCode(%q) must never be zero", code)
	}
}

func TestExitCode_FailuresAndErrorsAreDistinct(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testExitCode_FailuresAndErrorsAreDistinct)
}

func TestError_NilSafe(t *testing.T) {
	t.Parallel()
	var e *Error
	if e.Error() != "" {
		t.Fatal("nil *Error must render empty")
	}
	if e.Unwrap() != nil {
		t.Fatal("nil *Error must unwrap to nil")
	}
	if got := (&Error{Code: StepTimeout}).Error(); got != string(StepTimeout) {
		t.Fatalf("code-only error text = %q", got)
	}
}
