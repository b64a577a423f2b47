// Package objects stores the content-addressed StoredObject records.
package objects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

// PostgresRepository implements object storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// InsertIfAbsent inserts obj unless its fingerprint is already registered.
// It reports whether this call created the row; the UNIQUE constraint on
// fingerprint makes the first writer win.
func (r *PostgresRepository) InsertIfAbsent(ctx context.Context, obj *models.StoredObject) (bool, error) {
	query := `
		INSERT INTO stored_objects (id, fingerprint, storage_key, storage_url, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, obj.ID, obj.Fingerprint, obj.StorageKey, obj.StorageURL, obj.Size, obj.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// GetByFingerprint returns the registered object or common.ErrorNotFound.
func (r *PostgresRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.StoredObject, error) {
	query := `SELECT id, fingerprint, storage_key, storage_url, size, created_at FROM stored_objects WHERE fingerprint = $1`

	var o models.StoredObject
	err := r.db.QueryRowContext(ctx, query, fingerprint).Scan(&o.ID, &o.Fingerprint, &o.StorageKey, &o.StorageURL, &o.Size, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select object: %w", err)
	}
	return &o, nil
}

// ListByFingerprints fetches every registered object among fingerprints
// with a single query.
func (r *PostgresRepository) ListByFingerprints(ctx context.Context, fingerprints []string) ([]*models.StoredObject, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}

	query := `SELECT id, fingerprint, storage_key, storage_url, size, created_at FROM stored_objects
		WHERE fingerprint IN (` + dbx.Placeholders(1, len(fingerprints)) + `)`

	rows, err := r.db.QueryContext(ctx, query, dbx.StringArgs(fingerprints)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select objects: %w", err)
	}
	defer rows.Close()

	var result []*models.StoredObject
	for rows.Next() {
		var o models.StoredObject
		if err := rows.Scan(&o.ID, &o.Fingerprint, &o.StorageKey, &o.StorageURL, &o.Size, &o.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteUnreferenced removes the object record unless a task file outside
// excludeTaskID still points at it, and reports whether it did. The row is
// locked before counting, so a concurrent MarkDuplicate either commits its
// reference first or finds the row gone. Call it inside a transaction.
func (r *PostgresRepository) DeleteUnreferenced(ctx context.Context, id, excludeTaskID string) (bool, error) {
	var locked string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM stored_objects WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock object: %w", err)
	}

	var refs int
	query := `SELECT count(*) FROM task_files WHERE object_id = $1 AND task_id <> $2`
	if err := r.db.QueryRowContext(ctx, query, id, excludeTaskID).Scan(&refs); err != nil {
		return false, fmt.Errorf("failed to count references: %w", err)
	}
	if refs > 0 {
		return false, nil
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM stored_objects WHERE id = $1`, id); err != nil {
		return false, fmt.Errorf("failed to delete object: %w", err)
	}
	return true, nil
}
