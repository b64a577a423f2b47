package objects

import (
	"context"

	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

// Repository is the fingerprint-keyed arena of stored objects.
type Repository interface {
	InsertIfAbsent(ctx context.Context, obj *models.StoredObject) (bool, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.StoredObject, error)
	ListByFingerprints(ctx context.Context, fingerprints []string) ([]*models.StoredObject, error)
	DeleteUnreferenced(ctx context.Context, id, excludeTaskID string) (bool, error)
}
