// Package preflight provides readiness checks for the filesystem paths and
// external services convertd depends on.
//
// The CLI "convertd preflight" command runs RunAll and prints the results;
// "convertd serve" runs the same checks once at startup and logs failures
// without refusing to start. Checks for optional services are gated by
// configuration: the worker endpoint only in remote mode, MinIO only when it
// is the blob backend.
package preflight
