package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"convertd/internal/config"
	"convertd/internal/execution"
)

// MustOpenStore opens an execution.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...execution.Option) *execution.Store {
	t.Helper()

	store, err := execution.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("execution.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RecordOption customizes a record created by NewRecord.
type RecordOption func(*execution.Record)

// WithAttempts sets the record's attempt ceiling.
func WithAttempts(n int) RecordOption {
	return func(r *execution.Record) { r.MaxAttempts = n }
}

// WithLease sets the record's lease.
func WithLease(d time.Duration) RecordOption {
	return func(r *execution.Record) { r.Lease = d }
}

// WithTool sets the record's tool name.
func WithTool(name string) RecordOption {
	return func(r *execution.Record) { r.ToolName = name }
}

// WithOwner sets the record's owner.
func WithOwner(owner string) RecordOption {
	return func(r *execution.Record) { r.Owner = owner }
}

// NewRecord inserts a pending gpx-speed record with a fresh ID.
func NewRecord(t testing.TB, store *execution.Store, opts ...RecordOption) *execution.Record {
	t.Helper()

	id := uuid.NewString()
	rec := &execution.Record{
		ID:               id,
		ToolName:         "gpx-speed",
		Category:         "gpx",
		Owner:            "tester",
		Parameters:       map[string]string{"speed_multiplier": "2"},
		InputRef:         "gpx-uploads/" + id + ".gpx",
		OriginalFilename: "ride.gpx",
		MaxAttempts:      3,
		Lease:            10 * time.Minute,
	}
	for _, opt := range opts {
		opt(rec)
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return rec
}
