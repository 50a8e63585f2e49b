package execution

import (
	"context"
	"fmt"
	"strings"
)

// Claim atomically accepts a dispatch attempt. It succeeds when the record is
// pending, or processing with a lapsed lease, and attempts remain. The claim
// increments attempt_count and starts a fresh lease. Any other state returns
// ErrNotClaimed with the current record; an unknown ID returns ErrNotFound.
func (s *Store) Claim(ctx context.Context, id string) (*Record, error) {
	now := toMillis(s.now())
	rec, err := s.queryRecordWithRetry(ctx,
		`UPDATE executions
         SET status = ?, attempt_count = attempt_count + 1, lease_expires_at = ? + lease_ms, updated_at = ?
         WHERE id = ?
           AND attempt_count < max_attempts
           AND (status = ? OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?))
         RETURNING `+recordColumns,
		StatusProcessing, now, now,
		id,
		StatusPending, StatusProcessing, now,
	)
	if err != nil {
		return nil, fmt.Errorf("claim execution: %w", err)
	}
	if rec != nil {
		return rec, nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ErrNotClaimed
}

// ExtendLease renews the lease held by the given attempt.
func (s *Store) ExtendLease(ctx context.Context, id string, attempt int) error {
	now := toMillis(s.now())
	return s.guardedUpdate(ctx, "extend lease",
		`UPDATE executions SET lease_expires_at = ? + lease_ms, updated_at = ?
         WHERE id = ? AND status = ? AND attempt_count = ?`,
		now, now, id, StatusProcessing, attempt,
	)
}

// Complete records a successful attempt. It is a no-op returning ErrNotClaimed
// when the attempt no longer owns the record.
func (s *Store) Complete(ctx context.Context, id string, attempt int, outputRef string) error {
	if strings.TrimSpace(outputRef) == "" {
		return fmt.Errorf("complete execution: output_ref is required")
	}
	now := toMillis(s.now())
	return s.guardedUpdate(ctx, "complete execution",
		`UPDATE executions SET status = ?, output_ref = ?, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND attempt_count = ?`,
		StatusCompleted, outputRef, now, id, StatusProcessing, attempt,
	)
}

// Fail records a failed attempt with the given kind and user-facing message.
func (s *Store) Fail(ctx context.Context, id string, attempt int, kind, message string) error {
	now := toMillis(s.now())
	return s.guardedUpdate(ctx, "fail execution",
		`UPDATE executions SET status = ?, error_kind = ?, error_message = ?, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND attempt_count = ?`,
		StatusFailed, nullableString(kind), failureMessage(message), now, id, StatusProcessing, attempt,
	)
}

// FailPending fails a record that no worker could be reached for: a pending
// record, or a processing record whose lease already lapsed.
func (s *Store) FailPending(ctx context.Context, id, kind, message string) error {
	now := toMillis(s.now())
	return s.guardedUpdate(ctx, "fail undelivered execution",
		`UPDATE executions SET status = ?, error_kind = ?, error_message = ?, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND (status = ? OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?))`,
		StatusFailed, nullableString(kind), failureMessage(message), now, id, StatusPending, StatusProcessing, now,
	)
}

// ForceExpire fails a processing record whose lease has lapsed, provided the
// attempt that held it is still the latest one.
func (s *Store) ForceExpire(ctx context.Context, id string, attempt int, kind, message string) error {
	now := toMillis(s.now())
	return s.guardedUpdate(ctx, "expire execution",
		`UPDATE executions SET status = ?, error_kind = ?, error_message = ?, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND attempt_count = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
		StatusFailed, nullableString(kind), failureMessage(message), now, id, StatusProcessing, attempt, now,
	)
}

func (s *Store) guardedUpdate(ctx context.Context, op, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// failureMessage keeps error_message non-null for failed rows.
func failureMessage(message string) string {
	if trimmed := strings.TrimSpace(message); trimmed != "" {
		return trimmed
	}
	return "execution failed"
}
