package api

import (
	"convertd/internal/execution"
	"convertd/internal/gateway"
	"convertd/internal/plugin"
)

// FromRecord converts an execution record to its API representation.
func FromRecord(rec *execution.Record) Execution {
	if rec == nil {
		return Execution{}
	}
	dto := Execution{
		ID:               rec.ID,
		Tool:             rec.ToolName,
		Category:         rec.Category,
		Owner:            rec.Owner,
		Status:           string(rec.Status),
		ErrorKind:        rec.ErrorKind,
		ErrorMessage:     rec.ErrorMessage,
		Parameters:       rec.Parameters,
		InputRef:         rec.InputRef,
		OutputRef:        rec.OutputRef,
		OriginalFilename: rec.OriginalFilename,
		AttemptCount:     rec.AttemptCount,
		MaxAttempts:      rec.MaxAttempts,
	}
	if rec.LeaseExpiresAt != nil {
		dto.LeaseExpiresAt = rec.LeaseExpiresAt.UTC().Format(dateTimeFormat)
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !rec.UpdatedAt.IsZero() {
		dto.UpdatedAt = rec.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromRecords converts a slice of records, preserving order.
func FromRecords(records []*execution.Record) []Execution {
	out := make([]Execution, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromDescriptor converts a tool descriptor.
func FromDescriptor(desc plugin.Descriptor) Tool {
	return Tool{
		Name:            desc.Name,
		Label:           desc.Label,
		Category:        desc.Category,
		InputExtensions: append([]string(nil), desc.InputExtensions...),
		OutputExtension: desc.OutputExtension,
		MaxInputBytes:   desc.MaxInputBytes,
		MaxAttempts:     desc.MaxAttempts,
		LeaseSeconds:    int(desc.Lease.Seconds()),
		Inline:          desc.Inline,
	}
}

// FromDescriptors converts the registry catalogue.
func FromDescriptors(descs []plugin.Descriptor) []Tool {
	out := make([]Tool, 0, len(descs))
	for _, d := range descs {
		out = append(out, FromDescriptor(d))
	}
	return out
}

// FromReceipt converts a gateway receipt.
func FromReceipt(r gateway.Receipt) SubmitResponse {
	return SubmitResponse{ExecutionID: r.ExecutionID, Status: string(r.Status)}
}
