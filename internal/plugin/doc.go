// Package plugin defines the contract every conversion tool implements and
// the registry that resolves tools by name.
//
// A tool validates its input cheaply during ingestion, then processes it on a
// worker inside a per-attempt workspace. Run wraps Process so that Cleanup is
// called exactly once and panics surface as PanicError instead of crashing the
// worker. The Registry is built once at startup from a fixed plugin set,
// optionally adjusted by a YAML manifest, and is read-only afterwards.
package plugin
