// Package errors provides structured error types for AutoTable.
// All errors include a category, code, message, and retryable flag so that
// the engine and its transports classify failures the same way.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the stage that produced them.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryWrite      ErrorCategory = "WRITE"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidEntry      = "INVALID_ENTRY"
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"

	// Schema codes
	CodeSchemaSyncFailed = "SCHEMA_SYNC_FAILED"

	// Write codes
	CodeDuplicateKey = "DUPLICATE_KEY"
	CodeNotFound     = "NOT_FOUND"
	CodeWriteFailed  = "WRITE_FAILED"

	// Store codes
	CodeStoreUnavailable = "STORE_UNAVAILABLE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is. Matching compares category and code only.
var (
	ErrInvalidEntry      = New(ErrCategoryValidation, CodeInvalidEntry, "invalid entry")
	ErrInvalidIdentifier = New(ErrCategoryValidation, CodeInvalidIdentifier, "invalid identifier")
	ErrSchemaSyncFailed  = New(ErrCategorySchema, CodeSchemaSyncFailed, "schema sync failed")
	ErrDuplicateKey      = New(ErrCategoryWrite, CodeDuplicateKey, "duplicate key")
	ErrNotFound          = New(ErrCategoryWrite, CodeNotFound, "entry not found")
	ErrWriteFailed       = New(ErrCategoryWrite, CodeWriteFailed, "write failed")
	ErrStoreUnavailable  = New(ErrCategoryStore, CodeStoreUnavailable, "store unavailable")
)

// AutoTableError is the structured error type used throughout the system.
type AutoTableError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *AutoTableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *AutoTableError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *AutoTableError) Is(target error) bool {
	var t *AutoTableError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new AutoTableError.
func New(category ErrorCategory, code, message string) *AutoTableError {
	return &AutoTableError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new AutoTableError wrapping an existing error.
// A schema sync failure inherits retryability from its cause.
func Wrap(category ErrorCategory, code, message string, cause error) *AutoTableError {
	retryable := isRetryable(category, code)
	if category == ErrCategorySchema && IsRetryable(cause) {
		retryable = true
	}
	return &AutoTableError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *AutoTableError) WithDetails(details map[string]interface{}) *AutoTableError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ae *AutoTableError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// GetCategory extracts the outermost error category from an error chain.
// Returns empty string if the error is not an AutoTableError.
func GetCategory(err error) ErrorCategory {
	var ae *AutoTableError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}

// GetCode extracts the outermost error code from an error chain.
// Returns empty string if the error is not an AutoTableError.
func GetCode(err error) string {
	var ae *AutoTableError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryStore && code == CodeStoreUnavailable
}

// Convenience constructors for common errors.

func NewInvalidEntry(cause error) *AutoTableError {
	return Wrap(ErrCategoryValidation, CodeInvalidEntry, "invalid entry", cause)
}

func NewInvalidIdentifier(kind, name, reason string) *AutoTableError {
	return New(ErrCategoryValidation, CodeInvalidIdentifier,
		fmt.Sprintf("invalid %s name %q: %s", kind, name, reason)).
		WithDetails(map[string]interface{}{"kind": kind, "identifier": name})
}

func NewSchemaSyncFailed(table string, cause error) *AutoTableError {
	return Wrap(ErrCategorySchema, CodeSchemaSyncFailed,
		fmt.Sprintf("schema sync failed for table %q", table), cause)
}

func NewDuplicateKey(table, key string, cause error) *AutoTableError {
	return Wrap(ErrCategoryWrite, CodeDuplicateKey,
		fmt.Sprintf("key %q already exists in table %q", key, table), cause)
}

func NewNotFound(table, key string) *AutoTableError {
	return New(ErrCategoryWrite, CodeNotFound,
		fmt.Sprintf("key %q not found in table %q", key, table))
}

func NewWriteFailed(table string, cause error) *AutoTableError {
	return Wrap(ErrCategoryWrite, CodeWriteFailed,
		fmt.Sprintf("write to table %q failed", table), cause)
}

func NewStoreUnavailable(message string, cause error) *AutoTableError {
	return Wrap(ErrCategoryStore, CodeStoreUnavailable, message, cause)
}

func NewInternalError(message string, cause error) *AutoTableError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
