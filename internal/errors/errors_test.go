package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestBlocklogError_Error(t *testing.T) {
	err := New(ErrCategoryStorage, CodeUnavailable, "database not available")
	expected := "[STORAGE:UNAVAILABLE] database not available"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestBlocklogError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk I/O error")
	err := NewWriteError("flush failed", cause)
	expected := "[STORAGE:WRITE_FAILED] flush failed: disk I/O error"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestBlocklogError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewQueryError("query failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestBlocklogError_IsMatchesSentinels(t *testing.T) {
	wrapped := fmt.Errorf("enqueue: %w", New(ErrCategoryQueue, CodeQueueFull, "capacity 10 reached"))
	if !errors.Is(wrapped, ErrQueueFull) {
		t.Error("queue full error should match ErrQueueFull through a wrap")
	}
	if errors.Is(wrapped, ErrUnavailable) {
		t.Error("queue full error should not match ErrUnavailable")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewWriteError("w", nil), true},
		{ErrPoolBusy, true},
		{NewBackupError(CodeUploadFailed, "u", nil), true},
		{NewBackupError(CodeSnapshotFailed, "s", nil), false},
		{ErrUnavailable, false},
		{ErrQueueFull, false},
		{NewValidationError("bad radius"), false},
		{fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewQueryError("boom", nil))
	if got := GetCategory(err); got != ErrCategoryQuery {
		t.Errorf("GetCategory = %q, want %q", got, ErrCategoryQuery)
	}
	if got := GetCode(err); got != CodeQueryFailed {
		t.Errorf("GetCode = %q, want %q", got, CodeQueryFailed)
	}
	if GetCategory(fmt.Errorf("plain")) != "" || GetCode(fmt.Errorf("plain")) != "" {
		t.Error("non-BlocklogError should yield empty category and code")
	}
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	base := NewValidationError("radius out of range")
	detailed := base.WithDetails(map[string]interface{}{"radius": 500})
	if base.Details != nil {
		t.Error("WithDetails should not mutate the receiver")
	}
	if detailed.Details["radius"] != 500 {
		t.Error("expected details on the copy")
	}
}
