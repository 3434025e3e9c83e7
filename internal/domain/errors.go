package domain

import "fmt"

// ValidationError reports malformed caller input. It is always surfaced
// synchronously to the immediate caller, never swallowed.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotApprovedError reports an execution attempt on an action whose
// stored approval status is not "approved".
type NotApprovedError struct {
	ActionID string
	Status   string
}

func (e NotApprovedError) Error() string {
	return fmt.Sprintf("action %s is not approved (status %s)", e.ActionID, e.Status)
}
