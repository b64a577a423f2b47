// Package chunks stores chunk confirmations. A chunk counts as uploaded
// only once its row is committed here.
package chunks

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/dbx"
)

// PostgresRepository implements the chunk log over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append records a confirmed chunk. Replaying the same confirmation twice
// keeps the first token.
func (r *PostgresRepository) Append(ctx context.Context, fileID, sessionID string, index int, token string) error {
	query := `
		INSERT INTO chunk_confirmations (task_file_id, session_id, chunk_index, token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_file_id, session_id, chunk_index) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, fileID, sessionID, index, token); err != nil {
		return fmt.Errorf("failed to append chunk confirmation: %w", err)
	}
	return nil
}

// Replay returns every confirmed chunk of the session keyed by index.
func (r *PostgresRepository) Replay(ctx context.Context, fileID, sessionID string) (map[int]string, error) {
	query := `
		SELECT chunk_index, token FROM chunk_confirmations
		WHERE task_file_id = $1 AND session_id = $2
		ORDER BY chunk_index
	`
	rows, err := r.db.QueryContext(ctx, query, fileID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay chunk log: %w", err)
	}
	defer rows.Close()

	result := make(map[int]string)
	for rows.Next() {
		var (
			index int
			token string
		)
		if err := rows.Scan(&index, &token); err != nil {
			return nil, err
		}
		result[index] = token
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Clear drops the log of every session of the file.
func (r *PostgresRepository) Clear(ctx context.Context, fileID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chunk_confirmations WHERE task_file_id = $1`, fileID); err != nil {
		return fmt.Errorf("failed to clear chunk log: %w", err)
	}
	return nil
}
