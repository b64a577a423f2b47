package folders

import "context"

// Repository resolves virtual folder paths.
type Repository interface {
	ResolveOrCreatePath(ctx context.Context, driveID, path string) (string, error)
}
