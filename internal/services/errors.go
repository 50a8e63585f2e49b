package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrExecution         = errors.New("execution error")
	ErrTransientDispatch = errors.New("transient dispatch failure")
	ErrTimeout           = errors.New("timeout")
	ErrStorage           = errors.New("storage error")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
)

// Kind names a failure class. It is persisted alongside failed executions.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindExecution         Kind = "execution"
	KindTransientDispatch Kind = "transient_dispatch"
	KindTimeout           Kind = "timeout"
	KindStorage           Kind = "storage"
	KindInternal          Kind = "internal"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientDispatch
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto its Kind. Errors carrying no marker are internal.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrExecution):
		return KindExecution
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrTransientDispatch):
		return KindTransientDispatch
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}

// Retryable reports whether a trigger send that failed with err should be retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientDispatch) || errors.Is(err, ErrTimeout)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
