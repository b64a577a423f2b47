// Package folders resolves virtual folder paths to folder ids, creating
// missing folders on the way.
package folders

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/google/uuid"
)

// PostgresRepository implements folder resolution over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Segments splits a virtual path into its non-empty components.
func Segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

// ResolveOrCreatePath walks path from the drive root and returns the id of
// the deepest folder, creating any that are missing. The drive root is "".
// Safe to call repeatedly for the same path.
func (r *PostgresRepository) ResolveOrCreatePath(ctx context.Context, driveID, path string) (string, error) {
	query := `
		INSERT INTO folders (id, drive_id, parent_id, name, path, level)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (drive_id, path) DO UPDATE SET path = EXCLUDED.path
		RETURNING id
	`

	parentID := ""
	current := ""
	for level, name := range Segments(path) {
		current += "/" + name

		var id string
		err := r.db.QueryRowContext(ctx, query,
			uuid.NewString(), driveID, dbx.NullString(parentID), name, current, level).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("failed to resolve folder %q: %w", current, err)
		}
		parentID = id
	}
	return parentID, nil
}
