package errors

import (
	stderrors "errors"
	"fmt"
)

// KBError is the structured error type for amankb.
// It provides rich context for error handling, logging, and user presentation.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_411_SCHEMA_UNSUPPORTED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *KBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with KBError.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *KBError) WithSuggestion(suggestion string) *KBError {
	e.Suggestion = suggestion
	return e
}

// New creates a new KBError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KBError from an existing error.
// The error's message becomes the KBError message.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *KBError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *KBError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *KBError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KBError {
	return New(ErrCodeInternal, message, cause)
}

// SchemaError reports an input whose top-level JSON shape is not supported.
// It aborts the import.
func SchemaError(message string, cause error) *KBError {
	return New(ErrCodeSchemaUnsupported, message, cause)
}

// ElementError reports one malformed entry. The entry is skipped and the
// import continues.
func ElementError(index int, cause error) *KBError {
	msg := fmt.Sprintf("entry %d is malformed", index)
	if cause != nil {
		msg = fmt.Sprintf("entry %d is malformed: %v", index, cause)
	}
	return New(ErrCodeElementMalformed, msg, cause).
		WithDetail("index", fmt.Sprint(index))
}

// StoreError reports a failed batch write. Batches committed before it stay
// committed.
func StoreError(message string, cause error) *KBError {
	return New(ErrCodeStoreWrite, message, cause)
}

// SearchTierError reports one failing search strategy. The search cascade
// continues with the next tier.
func SearchTierError(tier string, cause error) *KBError {
	return New(ErrCodeSearchTier, fmt.Sprintf("search tier %s failed", tier), cause).
		WithDetail("tier", tier)
}

// IsRetryable checks if an error is retryable.
// Returns true if any KBError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a KBError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category from a KBError in the chain.
// Returns empty string if there is none.
func GetCategory(err error) Category {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke.Category
	}
	return ""
}
