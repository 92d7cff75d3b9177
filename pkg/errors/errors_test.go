package errors

import (
	"context"
	"errors"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeStore,
				Operation: "get_work",
				Message:   "lookup failed",
				Cause:     errors.New("underlying error"),
			},
			expected: "store operation 'get_work' failed: lookup failed (caused by: underlying error)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeVerification,
				Operation: "verify_submission",
				Message:   "bad signature",
				Cause:     nil,
			},
			expected: "verification operation 'verify_submission' failed: bad signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ServiceError{
		Type:      ErrorTypeStore,
		Operation: "test",
		Message:   "test",
		Cause:     cause,
	}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("ServiceError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"store errors retry", New(ErrorTypeStore, "cas", "conflict"), true},
		{"timeout errors retry", New(ErrorTypeTimeout, "get", "deadline"), true},
		{"messaging errors retry", New(ErrorTypeMessaging, "publish", "broker down"), true},
		{"corruption never retries", New(ErrorTypeCorruption, "read", "count exceeds limit"), false},
		{"verification never retries", New(ErrorTypeVerification, "verify", "bad signature"), false},
		{"context cancellation never retries", context.Canceled, false},
		{"connection refused retries", errors.New("dial tcp: connection refused"), true},
		{"plain errors do not retry", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestWrapPreservesRetryability(t *testing.T) {
	inner := New(ErrorTypeCorruption, "read_work", "dispatch count exceeds limit")
	wrapped := Wrap(inner, ErrorTypeStore, "request_work", "candidate scan failed")

	if wrapped.IsRetryable() {
		t.Error("wrapping a corruption error must not make it retryable")
	}
	if !IsType(wrapped, ErrorTypeStore) {
		t.Error("wrapped error should report the outer type")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrorTypeStore, "cas", "version conflict").
		WithContext("work_id", "w-1").
		WithContext("expected_version", 3)

	ctx := GetContext(err)
	if len(ctx) != 2 {
		t.Fatalf("expected 2 context entries, got %d", len(ctx))
	}
	if ctx["work_id"] != "w-1" {
		t.Errorf("work_id = %v, want w-1", ctx["work_id"])
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ErrorTypeStore, "op", "msg") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
