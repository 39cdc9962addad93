package errors

import "fmt"

type ValidationError struct {
	*baseError
	field    string
	provided any
	expected any
}

func NewValidationError(err error, code ErrorCode, msg string) *ValidationError {
	return &ValidationError{baseError: NewBaseError(err, code, msg)}
}

// NewRequiredFieldError reports a missing or zero configuration value.
func NewRequiredFieldError(field string) *ValidationError {
	ve := NewValidationError(nil, ErrValidationRequired, fmt.Sprintf("%s is required", field))
	ve.field = field
	return ve
}

// NewFieldRangeError reports a value outside of [min, max].
func NewFieldRangeError(field string, value, min, max any) *ValidationError {
	ve := NewValidationError(
		nil, ErrValidationRange, fmt.Sprintf("%s must be between %v and %v, got %v", field, min, max, value),
	)
	ve.field = field
	ve.provided = value
	ve.expected = fmt.Sprintf("[%v, %v]", min, max)
	return ve
}

func (ve *ValidationError) WithMessage(msg string) *ValidationError {
	ve.baseError.WithMessage(msg)
	return ve
}

func (ve *ValidationError) WithDetail(key string, value any) *ValidationError {
	ve.baseError.WithDetail(key, value)
	return ve
}

func (ve *ValidationError) WithProvided(value any) *ValidationError {
	ve.provided = value
	return ve
}

func (ve *ValidationError) WithExpected(value any) *ValidationError {
	ve.expected = value
	return ve
}

func (ve *ValidationError) Field() string {
	return ve.field
}

func (ve *ValidationError) Provided() any {
	return ve.provided
}

func (ve *ValidationError) Expected() any {
	return ve.expected
}
