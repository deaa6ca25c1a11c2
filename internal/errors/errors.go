package errors

import (
	"errors"
	"fmt"
)

// SopError is the structured error type for sopfusion.
// It carries enough context to decide whether a failure is fatal for the
// engine or only degrades a single retrieval stage.
type SopError struct {
	// Code is the unique error code (e.g., "ERR_207_CORPUS_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *SopError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SopError) Unwrap() error {
	return e.Cause
}

// Is matches another SopError by code so errors.Is works against templates.
func (e *SopError) Is(target error) bool {
	if t, ok := target.(*SopError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *SopError) WithDetail(key, value string) *SopError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *SopError) WithSuggestion(suggestion string) *SopError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SopError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SopError {
	return &SopError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SopError from an existing error.
func Wrap(code string, err error) *SopError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *SopError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// CorpusError creates a fatal corpus validation error.
func CorpusError(message string, cause error) *SopError {
	return New(ErrCodeCorpusInvalid, message, cause)
}

// NetworkError creates a network-related error. Network errors are retryable.
func NetworkError(message string, cause error) *SopError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *SopError {
	return New(ErrCodeInvalidInput, message, cause)
}

// MalformedResponse creates an error for backend output that could not be parsed.
func MalformedResponse(message string) *SopError {
	return New(ErrCodeMalformedResponse, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SopError {
	return New(ErrCodeInternal, message, cause)
}

// as finds the first SopError in the chain.
func as(err error) (*SopError, bool) {
	var se *SopError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable reports whether any SopError in the chain is retryable.
func IsRetryable(err error) bool {
	if se, ok := as(err); ok {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether the error must keep the engine out of the Ready state.
func IsFatal(err error) bool {
	if se, ok := as(err); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err carries none.
func GetCode(err error) string {
	if se, ok := as(err); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err carries none.
func GetCategory(err error) Category {
	if se, ok := as(err); ok {
		return se.Category
	}
	return ""
}
