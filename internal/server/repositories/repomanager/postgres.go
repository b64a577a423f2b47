// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/dmitrijs2005/gophupload/internal/server/migrations"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/folders"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/objects"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/taskfiles"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/tasks"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Tasks(db dbx.DBTX) tasks.Repository {
	return tasks.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) TaskFiles(db dbx.DBTX) taskfiles.Repository {
	return taskfiles.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Objects(db dbx.DBTX) objects.Repository {
	return objects.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Chunks(db dbx.DBTX) chunks.Repository {
	return chunks.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Folders(db dbx.DBTX) folders.Repository {
	return folders.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// OpenDB opens a pgx-backed pool and checks connectivity.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}
