package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAutoTableError_Error(t *testing.T) {
	err := New(ErrCategoryWrite, CodeDuplicateKey, "duplicate key")
	expected := "[WRITE:DUPLICATE_KEY] duplicate key"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestAutoTableError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := Wrap(ErrCategoryStore, CodeStoreUnavailable, "exec failed", cause)
	expected := "[STORE:STORE_UNAVAILABLE] exec failed: database is locked"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestAutoTableError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewSchemaSyncFailed("events", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestAutoTableError_IsSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate", NewDuplicateKey("events", "k1", nil), ErrDuplicateKey},
		{"not found", NewNotFound("events", "k1"), ErrNotFound},
		{"sync", NewSchemaSyncFailed("events", fmt.Errorf("boom")), ErrSchemaSyncFailed},
		{"identifier", NewInvalidIdentifier("table", "a-b", "bad"), ErrInvalidIdentifier},
		{"entry", NewInvalidEntry(fmt.Errorf("no key")), ErrInvalidEntry},
		{"unavailable", NewStoreUnavailable("down", nil), ErrStoreUnavailable},
		{"write", NewWriteFailed("events", fmt.Errorf("x")), ErrWriteFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.want)
			}
		})
	}

	if errors.Is(NewDuplicateKey("t", "k", nil), ErrNotFound) {
		t.Error("different codes should not match")
	}
}

func TestSchemaSyncFailed_MatchesWrappedUnavailable(t *testing.T) {
	cause := NewStoreUnavailable("busy", fmt.Errorf("database is locked"))
	err := NewSchemaSyncFailed("events", cause)

	if !errors.Is(err, ErrSchemaSyncFailed) {
		t.Error("should match ErrSchemaSyncFailed")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("should match ErrStoreUnavailable through the cause")
	}
	if !IsRetryable(err) {
		t.Error("sync failure caused by an unavailable store should be retryable")
	}
	if GetCode(err) != CodeSchemaSyncFailed {
		t.Errorf("GetCode = %q, want outermost code", GetCode(err))
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{NewStoreUnavailable("down", nil), true},
		{NewDuplicateKey("t", "k", nil), false},
		{NewNotFound("t", "k"), false},
		{NewSchemaSyncFailed("t", fmt.Errorf("permission denied")), false},
		{NewInvalidIdentifier("field", "x y", "bad"), false},
		{fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.retryable {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewInvalidIdentifier("table", "x;", "bad"))
	if cat := GetCategory(wrapped); cat != ErrCategoryValidation {
		t.Errorf("got %q, want %q", cat, ErrCategoryValidation)
	}
	if cat := GetCategory(fmt.Errorf("plain")); cat != "" {
		t.Errorf("got %q, want empty", cat)
	}
}

func TestWithDetails(t *testing.T) {
	err := NewInvalidIdentifier("field", "bad name", "must be alphanumeric")
	if err.Details["identifier"] != "bad name" {
		t.Errorf("details = %v", err.Details)
	}
	cp := err.WithDetails(map[string]interface{}{"k": "v"})
	if cp == err || err.Details["k"] != nil {
		t.Error("WithDetails should return a copy")
	}
}
