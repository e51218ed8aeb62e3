package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "code and message",
			err:      New(CodeValidation, "recipient phone missing"),
			contains: []string{"VALIDATION_ERROR", "recipient phone missing"},
		},
		{
			name:     "op prefix",
			err:      &Error{Code: CodeUnavailable, Message: "submit failed", Op: "dispatcher.submit"},
			contains: []string{"dispatcher.submit: ", "UNAVAILABLE", "submit failed"},
		},
		{
			name:     "underlying error",
			err:      &Error{Code: CodeInternal, Message: "write", Err: fmt.Errorf("disk full")},
			contains: []string{"write: disk full"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.err.Error()
			for _, c := range tt.contains {
				if !strings.Contains(s, c) {
					t.Errorf("expected %q in %q", c, s)
				}
			}
		})
	}
}

func TestWrapKeepsCodeAndFields(t *testing.T) {
	inner := NotFound("render job", "job_1")
	wrapped := Wrap(inner, "completion.resolve", "resolve failed")

	if wrapped.Code != CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", wrapped.Code)
	}
	if wrapped.Fields["id"] != "job_1" {
		t.Errorf("expected id field to survive wrap, got %v", wrapped.Fields)
	}
	if !errors.Is(wrapped, inner) {
		t.Error("expected wrapped error to match inner")
	}
}

func TestWrapForeignErrorIsInternal(t *testing.T) {
	wrapped := Wrap(fmt.Errorf("boom"), "op", "failed")
	if wrapped.Code != CodeInternal {
		t.Errorf("expected INTERNAL_ERROR, got %s", wrapped.Code)
	}
	if Wrap(nil, "op", "msg") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithCode(nil, CodeTimeout, "op", "msg") != nil {
		t.Error("WrapWithCode(nil) should return nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, 400},
		{CodeBadRequest, 400},
		{CodeUnauthorized, 401},
		{CodeNotFound, 404},
		{CodeConflict, 409},
		{CodeFailedPrecond, 412},
		{CodeUnavailable, 503},
		{CodeTimeout, 504},
		{CodeInternal, 500},
		{Code("SOMETHING_ELSE"), 500},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
	if GetHTTPStatus(fmt.Errorf("plain")) != 500 {
		t.Error("plain errors should map to 500")
	}
}

func TestPredicates(t *testing.T) {
	if !IsNotFound(NotFound("batch", "b1")) {
		t.Error("IsNotFound")
	}
	if !IsValidation(ValidationField("phone", "missing")) {
		t.Error("IsValidation")
	}
	if !IsConflict(Conflict("post already active")) {
		t.Error("IsConflict")
	}
	if IsNotFound(nil) {
		t.Error("nil is not a not-found error")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Unavailable("creatomate", fmt.Errorf("502"))) {
		t.Error("unavailable should be retryable")
	}
	if !IsRetryable(Wrap(New(CodeTimeout, "slow"), "publish", "download")) {
		t.Error("wrapped timeout should be retryable")
	}
	if IsRetryable(Validation("bad")) {
		t.Error("validation must not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("foreign errors are not retryable")
	}
}

func TestStackCaptured(t *testing.T) {
	err := New(CodeInternal, "x")
	if len(err.Stack) == 0 {
		t.Fatal("expected stack frames")
	}
	if !strings.Contains(err.StackTrace(), "TestStackCaptured") {
		t.Errorf("expected test function in stack, got:\n%s", err.StackTrace())
	}
}
