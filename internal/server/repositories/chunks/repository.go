package chunks

import "context"

// Repository is the append-only log of confirmed multipart chunks.
type Repository interface {
	Append(ctx context.Context, fileID, sessionID string, index int, token string) error
	Replay(ctx context.Context, fileID, sessionID string) (map[int]string, error)
	Clear(ctx context.Context, fileID string) error
}
