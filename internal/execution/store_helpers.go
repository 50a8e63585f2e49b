package execution

import (
	"database/sql"
	"encoding/json"
	"time"
)

const recordColumns = "id, tool_name, category, owner, status, parameters_json, input_ref, output_ref, error_kind, error_message, original_filename, attempt_count, max_attempts, lease_ms, lease_expires_at, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec          Record
		statusStr    string
		paramsJSON   string
		outputRef    sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		leaseMS      int64
		leaseExpires sql.NullInt64
		createdMS    int64
		updatedMS    int64
	)

	if err := scanner.Scan(
		&rec.ID,
		&rec.ToolName,
		&rec.Category,
		&rec.Owner,
		&statusStr,
		&paramsJSON,
		&rec.InputRef,
		&outputRef,
		&errorKind,
		&errorMessage,
		&rec.OriginalFilename,
		&rec.AttemptCount,
		&rec.MaxAttempts,
		&leaseMS,
		&leaseExpires,
		&createdMS,
		&updatedMS,
	); err != nil {
		return nil, err
	}

	rec.Status = Status(statusStr)
	rec.OutputRef = outputRef.String
	rec.ErrorKind = errorKind.String
	rec.ErrorMessage = errorMessage.String
	rec.Lease = time.Duration(leaseMS) * time.Millisecond
	rec.CreatedAt = fromMillis(createdMS)
	rec.UpdatedAt = fromMillis(updatedMS)
	if leaseExpires.Valid {
		expires := fromMillis(leaseExpires.Int64)
		rec.LeaseExpiresAt = &expires
	}
	rec.Parameters = map[string]string{}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &rec.Parameters); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
