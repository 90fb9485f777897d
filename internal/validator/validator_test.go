package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
)

type sample struct {
	CallID string `json:"call_id" validate:"required,call_id"`
	Phone  string `json:"phone" validate:"omitempty,e164"`
	State  string `json:"state" validate:"omitempty,oneof=abandoned partial completed"`
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(sample{CallID: "call-123", Phone: "+14155550100", State: "partial"}))

	err := Validate(sample{CallID: "bad id", Phone: "555", State: "done"})
	if assert.Error(t, err) {
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Contains(t, err.Error(), "field 'call_id'")
		assert.Contains(t, err.Error(), "field 'phone' failed validation: must be an E.164 phone number")
		assert.Contains(t, err.Error(), "must be one of: abandoned partial completed")
	}
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, ValidateVar("abc-1", "call_id"))
	assert.Error(t, ValidateVar("", "required"))
}
