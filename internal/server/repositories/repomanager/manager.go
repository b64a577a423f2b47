package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/folders"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/objects"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/taskfiles"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/tasks"
)

// RepositoryManager vends repositories bound to either the pool or an open
// transaction, so a service can run several of them in one unit of work.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Tasks(db dbx.DBTX) tasks.Repository
	TaskFiles(db dbx.DBTX) taskfiles.Repository
	Objects(db dbx.DBTX) objects.Repository
	Chunks(db dbx.DBTX) chunks.Repository
	Folders(db dbx.DBTX) folders.Repository
}
