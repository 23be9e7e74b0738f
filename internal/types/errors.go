package types

// FieldError is a validation failure for one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// ValidationError collects the field errors of one request.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates an empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{Errors: make([]FieldError, 0)}
}

// Add records a failed field.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{Field: field, Message: message, Value: value})
}

// Error joins the field messages.
func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	msg := "validation failed: " + v.Errors[0].Field + " " + v.Errors[0].Message
	if n := len(v.Errors) - 1; n > 0 {
		msg += " (and more)"
	}
	return msg
}
