package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitResponse acknowledges an accepted conversion.
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// Tool describes a registered conversion tool.
type Tool struct {
	Name            string   `json:"name"`
	Label           string   `json:"label,omitempty"`
	Category        string   `json:"category"`
	InputExtensions []string `json:"input_extensions"`
	OutputExtension string   `json:"output_extension"`
	MaxInputBytes   int64    `json:"max_input_bytes"`
	MaxAttempts     int      `json:"max_attempts"`
	LeaseSeconds    int      `json:"lease_seconds"`
	Inline          bool     `json:"inline"`
}

// ToolListResponse wraps the tool catalogue.
type ToolListResponse struct {
	Tools []Tool `json:"tools"`
}

// Execution is the operator view of an execution record.
type Execution struct {
	ID               string            `json:"id"`
	Tool             string            `json:"tool"`
	Category         string            `json:"category"`
	Owner            string            `json:"owner"`
	Status           string            `json:"status"`
	ErrorKind        string            `json:"error_kind,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	Parameters       map[string]string `json:"parameters,omitempty"`
	InputRef         string            `json:"input_ref"`
	OutputRef        string            `json:"output_ref,omitempty"`
	OriginalFilename string            `json:"original_filename"`
	AttemptCount     int               `json:"attempt_count"`
	MaxAttempts      int               `json:"max_attempts"`
	LeaseExpiresAt   string            `json:"lease_expires_at,omitempty"`
	CreatedAt        string            `json:"created_at,omitempty"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
}

// ExecutionListResponse wraps a collection of executions.
type ExecutionListResponse struct {
	Executions []Execution `json:"executions"`
}

// HealthResponse reports liveness, record counts by status, and the state of
// the record database.
type HealthResponse struct {
	Status   string         `json:"status"`
	Counts   map[string]int `json:"counts"`
	Total    int            `json:"total"`
	Tools    int            `json:"tools"`
	Database DatabaseHealth `json:"database"`
}

// DatabaseHealth is the client view of the record database checks.
type DatabaseHealth struct {
	SchemaVersion int  `json:"schema_version"`
	TableExists   bool `json:"table_exists"`
	Integrity     bool `json:"integrity_ok"`
}
