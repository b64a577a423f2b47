package transfer

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/taskfiles"
)

// Journal durably records multipart sessions. A chunk counts as uploaded
// only after Confirm returns.
type Journal interface {
	BeginSession(ctx context.Context, fileID string, state *models.ChunkState) error
	Confirm(ctx context.Context, fileID, sessionID string, index int, token string) error
	Replay(ctx context.Context, fileID, sessionID string) (map[int]string, error)
	EndSession(ctx context.Context, fileID string) error
}

// RepositoryJournal keeps the session header on the task file row and the
// confirmations in the append-only chunk log.
type RepositoryJournal struct {
	files  taskfiles.Repository
	chunks chunks.Repository
}

func NewRepositoryJournal(files taskfiles.Repository, chunks chunks.Repository) *RepositoryJournal {
	return &RepositoryJournal{files: files, chunks: chunks}
}

func (j *RepositoryJournal) BeginSession(ctx context.Context, fileID string, state *models.ChunkState) error {
	if err := j.chunks.Clear(ctx, fileID); err != nil {
		return fmt.Errorf("clear chunk log: %w", err)
	}
	if err := j.files.SetChunkInfo(ctx, fileID, state.Header()); err != nil {
		return fmt.Errorf("persist session %s: %w", state.SessionID, err)
	}
	return nil
}

func (j *RepositoryJournal) Confirm(ctx context.Context, fileID, sessionID string, index int, token string) error {
	return j.chunks.Append(ctx, fileID, sessionID, index, token)
}

func (j *RepositoryJournal) Replay(ctx context.Context, fileID, sessionID string) (map[int]string, error) {
	return j.chunks.Replay(ctx, fileID, sessionID)
}

func (j *RepositoryJournal) EndSession(ctx context.Context, fileID string) error {
	if err := j.chunks.Clear(ctx, fileID); err != nil {
		return fmt.Errorf("clear chunk log: %w", err)
	}
	return j.files.SetChunkInfo(ctx, fileID, nil)
}
