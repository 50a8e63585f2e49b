package dispatch

import (
	"context"
	"errors"
	"strings"

	"convertd/internal/execution"
)

// TriggerRequest is the payload delivered to a worker. ExecutionID doubles as
// the idempotency key.
type TriggerRequest struct {
	ExecutionID      string            `json:"execution_id"`
	ToolName         string            `json:"tool_name"`
	InputRef         string            `json:"input_ref"`
	Parameters       map[string]string `json:"parameters"`
	OriginalFilename string            `json:"original_filename"`
}

// RequestFor builds the trigger for rec.
func RequestFor(rec *execution.Record) TriggerRequest {
	return TriggerRequest{
		ExecutionID:      rec.ID,
		ToolName:         rec.ToolName,
		InputRef:         rec.InputRef,
		Parameters:       rec.Parameters,
		OriginalFilename: rec.OriginalFilename,
	}
}

// Validate rejects payloads that could never be executed.
func (r TriggerRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ExecutionID) == "":
		return errors.New("execution_id is required")
	case strings.TrimSpace(r.ToolName) == "":
		return errors.New("tool_name is required")
	case strings.TrimSpace(r.InputRef) == "":
		return errors.New("input_ref is required")
	}
	return nil
}

// ErrBusy marks a trigger refused because the worker is at capacity. The
// record stays pending so the reaper can re-dispatch it later.
var ErrBusy = errors.New("worker at capacity")

// Transport delivers a trigger to a worker. Errors tagged with
// services.ErrTransientDispatch or services.ErrTimeout are retried.
type Transport interface {
	Send(ctx context.Context, req TriggerRequest) error
}

// Triggerer is the trigger side as seen by the gateway and the reaper.
type Triggerer interface {
	Trigger(ctx context.Context, req TriggerRequest) error
}
