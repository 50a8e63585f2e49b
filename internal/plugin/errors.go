package plugin

import (
	"fmt"

	"convertd/internal/services"
)

// ValidationError is a client-caused rejection surfaced synchronously.
type ValidationError struct {
	Code    string
	Message string
}

// Invalid builds a ValidationError.
func Invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return services.ErrValidation
}

// ExecutionError is a tool-reported processing failure. Its message is stored
// verbatim on the execution record.
type ExecutionError struct {
	Code    string
	Message string
	Err     error
}

// Failed builds an ExecutionError.
func Failed(code, format string, args ...any) *ExecutionError {
	return &ExecutionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() []error {
	if e.Err != nil {
		return []error{services.ErrExecution, e.Err}
	}
	return []error{services.ErrExecution}
}

// NotFoundError is returned for tool names absent from the registry.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return services.ErrNotFound
}

// PanicError carries a panic recovered from Process.
type PanicError struct {
	Tool  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Value)
}
