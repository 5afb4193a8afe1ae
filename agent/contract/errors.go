package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidEvent    = errors.New("invalid webhook event")
	ErrProvider        = errors.New("provider request failed")
	ErrUnauthorized    = errors.New("provider rejected credentials")
)
