package execution

import "errors"

var (
	// ErrNotFound indicates the execution ID is unknown or already reaped.
	ErrNotFound = errors.New("execution not found")
	// ErrNotClaimed indicates a conditional transition matched no row: the
	// record is terminal, held under a live lease, owned by a different
	// attempt, or out of attempts.
	ErrNotClaimed = errors.New("execution not claimable")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
