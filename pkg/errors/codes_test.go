package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestRunnerError_Error(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "Startup", "invalid config file", nil)
	expected := "[1001] Startup: invalid config file"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}

	cause := errors.New("file not found")
	errWithCause := New(ErrCodeConfigInvalid, "Startup", "invalid config file", cause)
	expectedWithCause := "[1001] Startup: invalid config file (cause: file not found)"
	if errWithCause.Error() != expectedWithCause {
		t.Errorf("Expected %q, got %q", expectedWithCause, errWithCause.Error())
	}
}

func TestRunnerError_Unwrap(t *testing.T) {
	cause := errors.New("file not found")
	err := New(ErrCodeNotFound, "Locate", "mariadbd not found", cause)

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Expected cause %v, got %v", cause, unwrapped)
	}

	errNoCause := New(ErrCodeNotFound, "Locate", "mariadbd not found", nil)
	if errors.Unwrap(errNoCause) != nil {
		t.Errorf("Expected nil cause, got %v", errors.Unwrap(errNoCause))
	}
}

func TestRunnerError_IsByCode(t *testing.T) {
	err := New(ErrCodeTimeout, "WaitForSocket", "gave up after 60 attempts", nil)
	wrapped := fmt.Errorf("database stage: %w", err)

	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("Expected wrapped timeout to match ErrTimeout")
	}
	if errors.Is(wrapped, ErrProcessDied) {
		t.Error("Timeout must not match ErrProcessDied")
	}
	if CodeOf(wrapped) != ErrCodeTimeout {
		t.Errorf("Expected code %d, got %d", ErrCodeTimeout, CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != ErrCodeUnknown {
		t.Error("Expected unknown code for a plain error")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(ErrCodeAcquisition, "Download", "truncated", nil)) {
		t.Error("Acquisition errors are retryable on the next launch")
	}
	for _, code := range []ErrorCode{ErrCodeNotFound, ErrCodeInitialization, ErrCodeTimeout, ErrCodeProcessDied} {
		if Retryable(New(code, "op", "msg", nil)) {
			t.Errorf("Code %s should not be retryable", code.Name())
		}
	}
}

func TestDescribe_IncludesLogTail(t *testing.T) {
	err := WithLogTail(ErrCodeProcessDied, "WaitForHealth", "server exited", nil, []string{"line 1", "line 2"})
	got := Describe(err)
	want := "server exited\nline 1\nline 2"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if Describe(errors.New("boom")) != "boom" {
		t.Error("Plain errors should be described by their text")
	}
}

func TestRunnerError_Fields(t *testing.T) {
	err := New(ErrCodeInitialization, "InstallDB", "install failed", nil).(*RunnerError)
	if err.Code != ErrCodeInitialization {
		t.Errorf("Expected code %v, got %v", ErrCodeInitialization, err.Code)
	}
	if err.Operation != "InstallDB" {
		t.Errorf("Expected operation %q, got %q", "InstallDB", err.Operation)
	}
	if err.Code.Name() != "InitializationError" {
		t.Errorf("Expected name InitializationError, got %s", err.Code.Name())
	}
}

func TestParseCode(t *testing.T) {
	for _, code := range []ErrorCode{ErrCodeNotReady, ErrCodeAlreadyStarted, ErrCodeImport, ErrCodeTimeout} {
		if got := ParseCode(code.Name()); got != code {
			t.Errorf("ParseCode(%q) = %v, want %v", code.Name(), got, code)
		}
	}
	if ParseCode("Bogus") != ErrCodeUnknown {
		t.Error("Unknown names should map to ErrCodeUnknown")
	}
}
