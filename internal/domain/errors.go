package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the agent. Match with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrUpstreamModel      = errors.New("upstream model error")
	ErrToolExecution      = errors.New("tool execution error")
	ErrOrchestrationLimit = errors.New("orchestration limit exceeded")
)

// Error wraps an underlying cause with one of the kinds above.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error of the given kind.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf is shorthand for a validation error with a formatted cause.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Op: op, Err: fmt.Errorf(format, args...)}
}
