// Package tasks stores UploadTask rows.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

const taskColumns = `id, user_id, drive_id, name, status, priority,
	total_files, uploaded_files, total_size, uploaded_size,
	upload_manifest, storage_manifest, error_message, retry_count,
	created_at, updated_at, completed_at`

// PostgresRepository implements task storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new task.
func (r *PostgresRepository) Create(ctx context.Context, t *models.UploadTask) error {
	query := `
		INSERT INTO upload_tasks (id, user_id, drive_id, name, status, priority,
			total_files, uploaded_files, total_size, uploaded_size,
			upload_manifest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.DriveID, t.Name, string(t.Status), t.Priority,
		t.TotalFiles, t.UploadedFiles, t.TotalSize, t.UploadedSize,
		t.UploadManifest, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Get returns a task by id or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.UploadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM upload_tasks WHERE id = $1`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select task: %w", err)
	}
	return t, nil
}

// ListByUser returns the user's tasks, newest first. An empty status
// matches every status.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, status models.TaskStatus, offset, limit int) ([]*models.UploadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM upload_tasks
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		OFFSET $3 LIMIT $4`

	return r.list(ctx, query, userID, string(status), offset, limit)
}

// ListActive returns pending and uploading tasks, highest priority first.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*models.UploadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM upload_tasks
		WHERE status IN ('pending', 'uploading')
		ORDER BY priority DESC, created_at`

	return r.list(ctx, query)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.UploadTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select tasks: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update writes the mutable columns of t. Exactly one row must be affected.
func (r *PostgresRepository) Update(ctx context.Context, t *models.UploadTask) error {
	query := `
		UPDATE upload_tasks SET
			status = $2,
			uploaded_files = $3,
			uploaded_size = $4,
			storage_manifest = $5,
			error_message = $6,
			retry_count = $7,
			updated_at = $8,
			completed_at = $9
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		t.ID, string(t.Status), t.UploadedFiles, t.UploadedSize,
		dbx.NullJSON(t.StorageManifest), t.ErrorMessage, t.RetryCount,
		t.UpdatedAt, t.CompletedAt)
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

// Delete removes a task; its files and chunk log go with it.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM upload_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.UploadTask, error) {
	var (
		t           models.UploadTask
		status      string
		storage     []byte
		completedAt sql.NullTime
	)
	err := s.Scan(&t.ID, &t.UserID, &t.DriveID, &t.Name, &status, &t.Priority,
		&t.TotalFiles, &t.UploadedFiles, &t.TotalSize, &t.UploadedSize,
		&t.UploadManifest, &storage, &t.ErrorMessage, &t.RetryCount,
		&t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	if len(storage) > 0 {
		t.StorageManifest = storage
	}
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	return &t, nil
}
