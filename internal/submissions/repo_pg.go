package submissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Create(ctx context.Context, entry Entry) error {
	const query = `
INSERT INTO submissions (
    id,
    user_id,
    job_id,
    scope_id,
    kind,
    document_names,
    file_count,
    existing_count,
    outcome,
    message,
    request_id,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	names := entry.DocumentNames
	if names == nil {
		names = []string{}
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("marshal document names: %w", err)
	}
	var requestID sql.NullString
	if entry.RequestID != "" {
		requestID = sql.NullString{String: entry.RequestID, Valid: true}
	}

	_, err = r.DB.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.UserID,
		entry.JobID,
		entry.ScopeID,
		entry.Kind,
		string(namesJSON),
		entry.FileCount,
		entry.ExistingCount,
		entry.Outcome,
		entry.Message,
		requestID,
		entry.CreatedAt,
	)
	return err
}

func (r *PGRepo) ListByJob(ctx context.Context, userID, jobID string, limit int) ([]Entry, error) {
	const query = `
SELECT id, user_id, job_id, scope_id, kind, document_names, file_count, existing_count, outcome, message, request_id, created_at
FROM submissions
WHERE user_id = $1 AND job_id = $2
ORDER BY created_at DESC
LIMIT $3`
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, query, userID, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e         Entry
			namesJSON []byte
			requestID sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.JobID,
			&e.ScopeID,
			&e.Kind,
			&namesJSON,
			&e.FileCount,
			&e.ExistingCount,
			&e.Outcome,
			&e.Message,
			&requestID,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(namesJSON) > 0 {
			if err := json.Unmarshal(namesJSON, &e.DocumentNames); err != nil {
				return nil, fmt.Errorf("decode document names for %s: %w", e.ID, err)
			}
		}
		if e.DocumentNames == nil {
			e.DocumentNames = []string{}
		}
		if requestID.Valid {
			e.RequestID = requestID.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
