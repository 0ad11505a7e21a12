// Package errors provides structured error types for blocklog.
// Every error carries a category, a code, a message and a retryable flag so
// that the flush engine and the query engines can decide how to react
// without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryQueue      ErrorCategory = "QUEUE"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryRollback   ErrorCategory = "ROLLBACK"
	ErrCategoryBackup     ErrorCategory = "BACKUP"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidArgument = "INVALID_ARGUMENT"

	// Storage codes
	CodeUnavailable = "UNAVAILABLE"
	CodeWriteFailed = "WRITE_FAILED"
	CodeOpenFailed  = "OPEN_FAILED"

	// Queue codes
	CodeQueueFull = "QUEUE_FULL"
	CodePoolBusy  = "POOL_BUSY"

	// Query codes
	CodeQueryFailed = "QUERY_FAILED"

	// Rollback codes
	CodeUnknownMaterial = "UNKNOWN_MATERIAL"

	// Backup codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeSnapshotFailed = "SNAPSHOT_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// BlocklogError is the structured error type used throughout the system.
type BlocklogError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Sentinels for errors.Is comparisons. Matching is by category and code, so
// any BlocklogError with the same pair satisfies errors.Is.
var (
	ErrUnavailable     = New(ErrCategoryStorage, CodeUnavailable, "database not available")
	ErrQueueFull       = New(ErrCategoryQueue, CodeQueueFull, "pending queue is full")
	ErrPoolBusy        = New(ErrCategoryQueue, CodePoolBusy, "worker pool backlog is full")
	ErrInvalidArgument = New(ErrCategoryValidation, CodeInvalidArgument, "invalid argument")
)

// Error returns a formatted error string.
func (e *BlocklogError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BlocklogError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BlocklogError) Is(target error) bool {
	var t *BlocklogError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BlocklogError.
func New(category ErrorCategory, code, message string) *BlocklogError {
	return &BlocklogError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new BlocklogError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BlocklogError {
	return &BlocklogError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BlocklogError) WithDetails(details map[string]interface{}) *BlocklogError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var be *BlocklogError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BlocklogError.
func GetCategory(err error) ErrorCategory {
	var be *BlocklogError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BlocklogError.
func GetCode(err error) string {
	var be *BlocklogError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// isRetryable reports which failures are worth retrying on a later cycle.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeWriteFailed:
		return true
	case category == ErrCategoryQueue && code == CodePoolBusy:
		return true
	case category == ErrCategoryBackup && code == CodeUploadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(message string) *BlocklogError {
	return New(ErrCategoryValidation, CodeInvalidArgument, message)
}

func NewWriteError(message string, cause error) *BlocklogError {
	return Wrap(ErrCategoryStorage, CodeWriteFailed, message, cause)
}

func NewQueryError(message string, cause error) *BlocklogError {
	return Wrap(ErrCategoryQuery, CodeQueryFailed, message, cause)
}

func NewBackupError(code, message string, cause error) *BlocklogError {
	return Wrap(ErrCategoryBackup, code, message, cause)
}

func NewInternalError(message string, cause error) *BlocklogError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
