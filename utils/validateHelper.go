package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs go-playground/validator tags on an input struct.
// Returns the first validation error as-is so callers can surface field info.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}
