// Package execution persists execution records in SQLite and owns their
// lifecycle transitions.
//
// The Store manages database connections, schema initialization, and the
// compare-and-set transitions that move a record from pending to processing
// and then to exactly one terminal status. Every transition is a single
// conditional UPDATE guarded by the current status (and, once claimed, by the
// attempt number), so concurrent workers racing on one execution ID serialize
// in the database rather than in process memory.
//
// Leases bound how long a processing claim stays live. A claim whose lease has
// lapsed may be taken over by a later dispatch while attempts remain; the
// retention reaper force-fails it once the attempt budget is spent.
//
// Schema changes bump the version in schema.go; operators clear the database
// to adopt the new schema.
package execution
