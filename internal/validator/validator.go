package validator

import (
	"reflect"
	"strings"

	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/go-playground/validator/v10"
)

// Validator combines struct tag validation with session business rules
type Validator struct {
	structValidator  *validator.Validate
	sessionValidator *SessionValidator
}

// New creates a new centralized validator instance
func New() *Validator {
	structValidator := validator.New()

	// Register all custom validators once
	registerCustomValidators(structValidator)

	return &Validator{
		structValidator:  structValidator,
		sessionValidator: NewSessionValidator(),
	}
}

// ValidateStruct validates struct tags only
func (v *Validator) ValidateStruct(s interface{}) error {
	if err := v.structValidator.Struct(s); err != nil {
		if errs := ToValidationErrors(err); len(errs) > 0 {
			return errs
		}
		return err
	}
	return nil
}

// Validate performs complete validation (struct + business rules)
func (v *Validator) Validate(s interface{}) error {
	if err := v.ValidateStruct(s); err != nil {
		return err
	}

	if errors := v.sessionValidator.Validate(s); len(errors) > 0 {
		return errors
	}

	return nil
}

// registerCustomValidators registers all custom validation functions
func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("severity", validateSeverity)

	// Custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateSeverity(fl validator.FieldLevel) bool {
	return models.Severity(fl.Field().String()).IsValid()
}
