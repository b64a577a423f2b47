// Package taskfiles stores TaskFile rows.
package taskfiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

const fileColumns = `id, task_id, file_index, folder_id, object_id,
	local_path, target_folder_path, file_name, size, fingerprint, mime_type,
	status, progress, storage_key, storage_url, chunk_info,
	error_message, error_kind, retry_count, is_duplicate, duplicated_from,
	created_at, updated_at, completed_at`

// PostgresRepository implements task file storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateBatch inserts files one statement at a time; callers run it inside
// a transaction so the batch is all-or-nothing.
func (r *PostgresRepository) CreateBatch(ctx context.Context, files []*models.TaskFile) error {
	query := `
		INSERT INTO task_files (id, task_id, file_index, folder_id, local_path,
			target_folder_path, file_name, size, fingerprint, mime_type, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, f := range files {
		_, err := r.db.ExecContext(ctx, query,
			f.ID, f.TaskID, f.Index, dbx.NullString(f.FolderID), f.LocalPath,
			f.TargetFolderPath, f.FileName, f.Size, f.Fingerprint, f.MimeType, string(f.Status),
			f.CreatedAt, f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert task file %q: %w", f.LocalPath, err)
		}
	}
	return nil
}

// Get returns a file by id or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.TaskFile, error) {
	query := `SELECT ` + fileColumns + ` FROM task_files WHERE id = $1`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select task file: %w", err)
	}
	return f, nil
}

// ListByTask returns the task's files in manifest order.
func (r *PostgresRepository) ListByTask(ctx context.Context, taskID string) ([]*models.TaskFile, error) {
	query := `SELECT ` + fileColumns + ` FROM task_files WHERE task_id = $1 ORDER BY file_index`

	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to select task files: %w", err)
	}
	defer rows.Close()

	var result []*models.TaskFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update writes the mutable columns of f. Exactly one row must be affected.
func (r *PostgresRepository) Update(ctx context.Context, f *models.TaskFile) error {
	chunk, err := encodeChunk(f.Chunk)
	if err != nil {
		return err
	}

	query := `
		UPDATE task_files SET
			object_id = $2,
			fingerprint = $3,
			status = $4,
			progress = $5,
			storage_key = $6,
			storage_url = $7,
			chunk_info = $8,
			error_message = $9,
			error_kind = $10,
			retry_count = $11,
			is_duplicate = $12,
			duplicated_from = $13,
			updated_at = $14,
			completed_at = $15
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		f.ID, dbx.NullString(f.ObjectID), f.Fingerprint, string(f.Status), f.Progress,
		f.StorageKey, f.StorageURL, chunk, f.ErrorMessage, f.ErrorKind, f.RetryCount,
		f.IsDuplicate, dbx.NullString(f.DuplicatedFrom), f.UpdatedAt, f.CompletedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// MarkDuplicate points a still-pending file at an existing object and marks
// it skipped. It reports false when the file was no longer pending, which
// makes repeated dedup passes harmless, or when the object was purged.
func (r *PostgresRepository) MarkDuplicate(ctx context.Context, fileID string, obj *models.StoredObject, at time.Time) (bool, error) {
	query := `
		UPDATE task_files SET
			status = 'skipped',
			is_duplicate = true,
			duplicated_from = $2,
			object_id = $2,
			storage_key = $3,
			storage_url = $4,
			progress = 0,
			chunk_info = NULL,
			updated_at = $5,
			completed_at = $5
		WHERE id = $1 AND status = 'pending' AND NOT is_duplicate
			AND EXISTS (SELECT 1 FROM stored_objects WHERE id = $2 FOR KEY SHARE)
	`
	res, err := r.db.ExecContext(ctx, query, fileID, obj.ID, obj.StorageKey, obj.StorageURL, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark duplicate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// SetChunkInfo persists the multipart session header, or clears it when
// state is nil. Confirmations are kept in the chunk log, not here.
func (r *PostgresRepository) SetChunkInfo(ctx context.Context, fileID string, state *models.ChunkState) error {
	chunk, err := encodeChunk(state)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `UPDATE task_files SET chunk_info = $2, updated_at = now() WHERE id = $1`, fileID, chunk)
	if err != nil {
		return fmt.Errorf("failed to set chunk info: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	return nil
}

// encodeChunk stores only the session header; confirmations live in the
// chunk log.
func encodeChunk(state *models.ChunkState) (any, error) {
	if state == nil {
		return nil, nil
	}
	b, err := json.Marshal(state.Header())
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk info: %w", err)
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.TaskFile, error) {
	var (
		f                  models.TaskFile
		folderID, objectID sql.NullString
		duplicatedFrom     sql.NullString
		status             string
		chunk              []byte
		completedAt        sql.NullTime
	)
	err := s.Scan(&f.ID, &f.TaskID, &f.Index, &folderID, &objectID,
		&f.LocalPath, &f.TargetFolderPath, &f.FileName, &f.Size, &f.Fingerprint, &f.MimeType,
		&status, &f.Progress, &f.StorageKey, &f.StorageURL, &chunk,
		&f.ErrorMessage, &f.ErrorKind, &f.RetryCount, &f.IsDuplicate, &duplicatedFrom,
		&f.CreatedAt, &f.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	f.FolderID = folderID.String
	f.ObjectID = objectID.String
	f.DuplicatedFrom = duplicatedFrom.String
	f.Status = models.FileStatus(status)
	if completedAt.Valid {
		ts := completedAt.Time
		f.CompletedAt = &ts
	}
	if len(chunk) > 0 {
		var state models.ChunkState
		if err := json.Unmarshal(chunk, &state); err != nil {
			return nil, fmt.Errorf("failed to decode chunk info: %w", err)
		}
		f.Chunk = &state
	}
	return &f, nil
}
