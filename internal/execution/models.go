package execution

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an execution record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one conversion job.
type Record struct {
	ID               string
	ToolName         string
	Category         string
	Owner            string
	Status           Status
	Parameters       map[string]string
	InputRef         string
	OutputRef        string
	ErrorKind        string
	ErrorMessage     string
	OriginalFilename string
	AttemptCount     int
	MaxAttempts      int
	Lease            time.Duration
	LeaseExpiresAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LeaseLive reports whether a processing claim is still held at now.
func (r Record) LeaseLive(now time.Time) bool {
	return r.Status == StatusProcessing && r.LeaseExpiresAt != nil && now.Before(*r.LeaseExpiresAt)
}

// AttemptsRemaining reports whether another dispatch may be accepted.
func (r Record) AttemptsRemaining() bool {
	return r.AttemptCount < r.MaxAttempts
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses []Status
	Owner    string
	Tool     string
	Limit    int
}

// DatabaseHealth captures diagnostic information about the execution database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	IntegrityCheck   bool
	TotalRecords     int
	Error            string
}

// HealthSummary describes aggregated record counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
