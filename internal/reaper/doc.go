// Package reaper enforces lease timeouts and retention.
//
// Each sweep runs three phases under a file lock so that only one process
// sweeps at a time: expired leases are re-dispatched or force-failed, terminal
// executions past the retention window are deleted with their blobs, and
// abandoned plugin workspaces are removed. Every destructive step re-checks
// state in the same statement that acts on it, so a sweep may overlap live
// dispatches safely.
package reaper
