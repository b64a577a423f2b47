package tasks

import (
	"context"

	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

// Repository persists upload tasks.
type Repository interface {
	Create(ctx context.Context, task *models.UploadTask) error
	Get(ctx context.Context, id string) (*models.UploadTask, error)
	ListByUser(ctx context.Context, userID string, status models.TaskStatus, offset, limit int) ([]*models.UploadTask, error)
	ListActive(ctx context.Context) ([]*models.UploadTask, error)
	Update(ctx context.Context, task *models.UploadTask) error
	Delete(ctx context.Context, id string) error
}
