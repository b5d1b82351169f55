package validator

import (
	"github.com/SAP-F-2025/tryout-runtime/internal/errors"
	"github.com/SAP-F-2025/tryout-runtime/internal/models"
)

// SessionValidator checks rules that struct tags cannot express
type SessionValidator struct{}

func NewSessionValidator() *SessionValidator {
	return &SessionValidator{}
}

// Validate dispatches on the payload type; unknown types have no rules.
func (v *SessionValidator) Validate(s interface{}) ValidationErrors {
	switch payload := s.(type) {
	case *models.SessionDetail:
		return v.ValidateSessionDetail(payload)
	case models.SessionDetail:
		return v.ValidateSessionDetail(&payload)
	default:
		return nil
	}
}

// ValidateSessionDetail accepts a non-positive duration (detail not loaded
// yet) but requires a start time once the duration is known.
func (v *SessionValidator) ValidateSessionDetail(detail *models.SessionDetail) ValidationErrors {
	var errs ValidationErrors
	if detail.DurationMinutes > 0 && detail.StartedAt.IsZero() {
		errs = append(errs, errors.FieldError("startedAt", "required_with", "is required when durationMinutes is set", nil))
	}
	if detail.RemainingTimeMs != nil && detail.DurationMinutes > 0 &&
		*detail.RemainingTimeMs > int64(detail.DurationMinutes)*60*1000 {
		errs = append(errs, errors.FieldError("remainingTimeMs", "lte", "must not exceed the exam duration", *detail.RemainingTimeMs))
	}
	return errs
}
