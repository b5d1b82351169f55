package session

import (
	"errors"

	apperrors "github.com/SAP-F-2025/tryout-runtime/internal/errors"
)

var (
	ErrViewNotFound            = errors.New("view not found")
	ErrViewClosed              = errors.New("view is closed")
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAttemptNotActive        = errors.New("attempt is not active")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrCaptureRunning          = errors.New("capture loop already running")
	ErrCaptureNotRunning       = errors.New("capture loop not running")
	ErrInvalidAttemptID        = errors.New("attempt id is required")
)

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrViewNotFound) || errors.Is(err, ErrAttemptNotFound)
}

// IsConflict checks if error represents a state conflict with the attempt
func IsConflict(err error) bool {
	return errors.Is(err, ErrViewClosed) ||
		errors.Is(err, ErrAttemptNotActive) ||
		errors.Is(err, ErrAttemptAlreadySubmitted) ||
		errors.Is(err, ErrCaptureRunning) ||
		errors.Is(err, ErrCaptureNotRunning)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrInvalidAttemptID) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}
