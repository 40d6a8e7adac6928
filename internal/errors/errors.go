package errors

import "fmt"

// StreamError is the structured error type for streamsearch. It carries
// enough context for the slot-file engine to report structural errors up,
// while the query evaluator and codec use it only for logging, never for
// propagation.
type StreamError struct {
	// Code is the unique error code (e.g. "ERR_201_CORRUPT_SLOT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category classifies the error (Storage, Codec, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details carries additional key-value context.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates the operation may succeed if retried.
	Retryable bool
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is to match StreamErrors by code.
func (e *StreamError) Is(target error) bool {
	t, ok := target.(*StreamError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *StreamError) WithDetail(key, value string) *StreamError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a StreamError; category, severity and retryability are
// derived from the code.
func New(code, message string, cause error) *StreamError {
	return &StreamError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a StreamError from an existing error, or returns nil if err is nil.
func Wrap(code string, err error) *StreamError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Corruption creates a slot-file corruption error.
func Corruption(code, message string, cause error) *StreamError {
	return New(code, message, cause)
}

// CodecMalformed creates a codec-malformed-input error (never propagated;
// callers treat the decode as producing an absent result).
func CodecMalformed(message string, cause error) *StreamError {
	return New(ErrCodeCodecMalformed, message, cause)
}

// IsRetryable reports whether err is a retryable StreamError.
func IsRetryable(err error) bool {
	se, ok := err.(*StreamError)
	return ok && se.Retryable
}

// IsFatal reports whether err is a fatal-severity StreamError.
func IsFatal(err error) bool {
	se, ok := err.(*StreamError)
	return ok && se.Severity == SeverityFatal
}

// Code extracts the error code, or "" if err is not a StreamError.
func Code(err error) string {
	se, ok := err.(*StreamError)
	if !ok {
		return ""
	}
	return se.Code
}
