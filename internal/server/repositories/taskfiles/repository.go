package taskfiles

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

// Repository persists the files of upload tasks.
type Repository interface {
	CreateBatch(ctx context.Context, files []*models.TaskFile) error
	Get(ctx context.Context, id string) (*models.TaskFile, error)
	ListByTask(ctx context.Context, taskID string) ([]*models.TaskFile, error)
	Update(ctx context.Context, file *models.TaskFile) error
	MarkDuplicate(ctx context.Context, fileID string, obj *models.StoredObject, at time.Time) (bool, error)
	SetChunkInfo(ctx context.Context, fileID string, state *models.ChunkState) error
}
