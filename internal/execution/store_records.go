package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Create inserts a new pending record. CreatedAt and UpdatedAt are stamped from
// the store clock; Status and AttemptCount are forced to their initial values.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("create execution: nil record")
	}
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.ToolName) == "" || strings.TrimSpace(rec.InputRef) == "" {
		return errors.New("create execution: id, tool_name, and input_ref are required")
	}
	if rec.MaxAttempts <= 0 || rec.Lease <= 0 {
		return errors.New("create execution: max_attempts and lease must be positive")
	}
	params := rec.Parameters
	if params == nil {
		params = map[string]string{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	now := s.now().UTC()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO executions (id, tool_name, category, owner, status, parameters_json, input_ref, original_filename,
            attempt_count, max_attempts, lease_ms, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		rec.ID, rec.ToolName, rec.Category, rec.Owner, StatusPending, string(encoded), rec.InputRef, rec.OriginalFilename,
		rec.MaxAttempts, rec.Lease.Milliseconds(), toMillis(now), toMillis(now),
	); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	rec.Status = StatusPending
	rec.AttemptCount = 0
	rec.Parameters = params
	rec.CreatedAt = fromMillis(toMillis(now))
	rec.UpdatedAt = rec.CreatedAt
	return nil
}

// Get fetches a record by ID. Unknown IDs return ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := s.queryRecordWithRetry(ctx, `SELECT `+recordColumns+` FROM executions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns records matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Record, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if owner := strings.TrimSpace(filter.Owner); owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, owner)
	}
	if tool := strings.TrimSpace(filter.Tool); tool != "" {
		clauses = append(clauses, "tool_name = ?")
		args = append(args, tool)
	}

	query := `SELECT ` + recordColumns + ` FROM executions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryRecords(ctx, "list executions", query, args...)
}

// Delete removes a record regardless of status and returns what was removed so
// the caller can drop its blobs. Missing records return (nil, nil).
func (s *Store) Delete(ctx context.Context, id string) (*Record, error) {
	rec, err := s.queryRecordWithRetry(ctx, `DELETE FROM executions WHERE id = ? RETURNING `+recordColumns, id)
	if err != nil {
		return nil, fmt.Errorf("delete execution: %w", err)
	}
	return rec, nil
}

func (s *Store) queryRecords(ctx context.Context, op, query string, args ...any) ([]*Record, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}
