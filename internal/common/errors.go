package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Failure taxonomy. Everything except ErrCheckpointCorrupt is isolated to a
// field or document and recorded rather than propagated.
var (
	// ErrDocumentUnreadable marks a document whose page text cannot be
	// loaded; the document is failed and the batch continues.
	ErrDocumentUnreadable = errors.New("document unreadable")

	// ErrModelTimeout is a single inference call exceeding its deadline.
	// The field degrades to confidence 0 after retries are exhausted.
	ErrModelTimeout = errors.New("model call timed out")

	// ErrModelUnavailable covers connection and non-quota server failures.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrModelQuotaExceeded pauses further escalation to the affected tier
	// for the remainder of the batch; lower tiers keep working.
	ErrModelQuotaExceeded = errors.New("model quota exceeded")

	// ErrCheckpointCorrupt is the only fatal class: the batch cannot make
	// trustworthy progress claims and stops for operator intervention.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsFatal reports whether err must stop the whole batch.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCheckpointCorrupt)
}
