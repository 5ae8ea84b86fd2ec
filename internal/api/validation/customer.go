package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report errors under the wire name, not the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ProvisionRequest mirrors the fields needed to validate a provisioning call.
type ProvisionRequest struct {
	AppName          string `json:"appName" validate:"required,min=3,max=63"`
	AdminEmail       string `json:"adminEmail" validate:"required,email"`
	AdminPassword    string `json:"adminPassword" validate:"required,min=8"`
	OrganizationName string `json:"organizationName" validate:"omitempty,max=120"`
	Plan             string `json:"plan" validate:"omitempty,oneof=basic standard pro"`
	BillingFrequency string `json:"billingFrequency" validate:"omitempty,oneof=monthly yearly"`
}

// ResetPasswordRequest mirrors the fields needed to validate a password reset.
type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// ValidateProvisionRequest validates a provisioning request.
// Returns a slice of field errors; empty slice means valid.
func ValidateProvisionRequest(req ProvisionRequest) []FieldError {
	return translate(validate.Struct(req))
}

// ValidateResetPasswordRequest validates a password reset request.
func ValidateResetPasswordRequest(req ResetPasswordRequest) []FieldError {
	return translate(validate.Struct(req))
}

// translate converts validator errors into field errors with messages a
// caller can act on.
func translate(err error) []FieldError {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "request", Message: err.Error()}}
	}

	errs := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, FieldError{Field: fe.Field(), Message: messageFor(fe)})
	}
	return errs
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.Join(strings.Fields(fe.Param()), ", "))
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
