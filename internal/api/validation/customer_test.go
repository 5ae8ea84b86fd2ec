package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windseeker5/minipass-env-sub001/internal/api/validation"
)

func validRequest() validation.ProvisionRequest {
	return validation.ProvisionRequest{
		AppName:          "My App",
		AdminEmail:       "owner@example.com",
		AdminPassword:    "hunter2hunter2",
		OrganizationName: "Acme Hockey League",
		Plan:             "standard",
		BillingFrequency: "monthly",
	}
}

func fieldsOf(errs []validation.FieldError) []string {
	var fields []string
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	return fields
}

func TestValidateProvisionRequest_Valid(t *testing.T) {
	errs := validation.ValidateProvisionRequest(validRequest())
	assert.Empty(t, errs)
}

func TestValidateProvisionRequest_OptionalFieldsMayBeEmpty(t *testing.T) {
	req := validRequest()
	req.OrganizationName = ""
	req.Plan = ""
	req.BillingFrequency = ""

	assert.Empty(t, validation.ValidateProvisionRequest(req))
}

func TestValidateProvisionRequest_ReportsWireFieldNames(t *testing.T) {
	errs := validation.ValidateProvisionRequest(validation.ProvisionRequest{})

	fields := fieldsOf(errs)
	assert.Contains(t, fields, "appName")
	assert.Contains(t, fields, "adminEmail")
	assert.Contains(t, fields, "adminPassword")
	assert.NotContains(t, fields, "AppName", "errors must use json names, not Go names")
}

func TestValidateProvisionRequest_BadEmail(t *testing.T) {
	req := validRequest()
	req.AdminEmail = "not-an-email"

	errs := validation.ValidateProvisionRequest(req)
	require.Len(t, errs, 1)
	assert.Equal(t, "adminEmail", errs[0].Field)
	assert.Equal(t, "adminEmail must be a valid email address", errs[0].Message)
}

func TestValidateProvisionRequest_ShortPassword(t *testing.T) {
	req := validRequest()
	req.AdminPassword = "short"

	errs := validation.ValidateProvisionRequest(req)
	require.Len(t, errs, 1)
	assert.Equal(t, "adminPassword", errs[0].Field)
	assert.Equal(t, "adminPassword must be at least 8 characters", errs[0].Message)
}

func TestValidateProvisionRequest_UnknownPlan(t *testing.T) {
	req := validRequest()
	req.Plan = "enterprise"

	errs := validation.ValidateProvisionRequest(req)
	require.Len(t, errs, 1)
	assert.Equal(t, "plan", errs[0].Field)
	assert.Equal(t, "plan must be one of: basic, standard, pro", errs[0].Message)
}

func TestValidateResetPasswordRequest(t *testing.T) {
	assert.Empty(t, validation.ValidateResetPasswordRequest(validation.ResetPasswordRequest{
		NewPassword: "correct-horse-battery",
	}))

	errs := validation.ValidateResetPasswordRequest(validation.ResetPasswordRequest{NewPassword: "nope"})
	require.Len(t, errs, 1)
	assert.Equal(t, "newPassword", errs[0].Field)
}
