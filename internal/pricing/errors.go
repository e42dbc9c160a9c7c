package pricing

import (
	"errors"
	"fmt"
)

// ErrNoLineItems is returned when quote totals are requested over zero lines.
var ErrNoLineItems = errors.New("pricing: quote has no line items")

// ValidationError reports malformed or out-of-range calculation input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "pricing: " + e.Message
	}
	return fmt.Sprintf("pricing: %s: %s", e.Field, e.Message)
}

func validationErr(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
