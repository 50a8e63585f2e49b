package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Expired returns records the reaper must act on: processing records whose
// lease has lapsed, and pending records that have sat unclaimed for longer
// than their lease (a lost trigger).
func (s *Store) Expired(ctx context.Context) ([]*Record, error) {
	now := toMillis(s.now())
	return s.queryRecords(ctx, "list expired executions",
		`SELECT `+recordColumns+` FROM executions
         WHERE (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
            OR (status = ? AND updated_at + lease_ms <= ?)
         ORDER BY updated_at`,
		StatusProcessing, now, StatusPending, now,
	)
}

// ReapCandidates returns terminal records last updated before now-window,
// oldest first. A non-positive limit returns all of them.
func (s *Store) ReapCandidates(ctx context.Context, window time.Duration, limit int) ([]*Record, time.Time, error) {
	cutoff := s.now().Add(-window)
	query := `SELECT ` + recordColumns + ` FROM executions
         WHERE status IN (?, ?) AND updated_at <= ?
         ORDER BY updated_at`
	args := []any{StatusCompleted, StatusFailed, toMillis(cutoff)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	records, err := s.queryRecords(ctx, "list reap candidates", query, args...)
	return records, cutoff, err
}

// DeleteIfReapable deletes the record only if it is still terminal and older
// than cutoff, re-checking both inside the DELETE.
func (s *Store) DeleteIfReapable(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM executions WHERE id = ? AND status IN (?, ?) AND updated_at <= ?`,
		id, StatusCompleted, StatusFailed, toMillis(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("reap execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reap execution: %w", err)
	}
	return affected > 0, nil
}

// Stats returns a count of records grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates record state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the execution database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat execution database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("execution database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping execution database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	var tables int
	if err := s.db.QueryRowContext(connCtx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'executions'",
	).Scan(&tables); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	health.TableExists = tables == 1
	if !health.TableExists {
		return health, nil
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA quick_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = integrity == "ok"

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM executions").Scan(&health.TotalRecords); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count executions: %w", err)
	}
	return health, nil
}
