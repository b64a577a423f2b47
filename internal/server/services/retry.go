package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/filestate"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

// MaxManualRetries bounds the retry count up to which a failed file may be
// re-queued with RetryFile.
const MaxManualRetries = 3

// RetryFile puts a failed file of a still active task back to pending and
// makes sure a run picks it up. Finished tasks are never reopened.
func (s *UploadService) RetryFile(ctx context.Context, taskID, fileID string) (*models.TaskFile, error) {
	var (
		file  *models.TaskFile
		stale *models.ChunkState
	)
	task, err := s.mutateTask(ctx, taskID, func(ctx context.Context, r txRepos, task *models.UploadTask) (bool, error) {
		if task.Status.IsTerminal() {
			return false, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, common.ErrInvalidTransition)
		}

		f, err := r.files.Get(ctx, fileID)
		if err != nil {
			return false, err
		}
		if f.TaskID != task.ID {
			return false, fmt.Errorf("file %s of task %s: %w", fileID, taskID, common.ErrorNotFound)
		}
		if f.Status != models.FileFailed {
			return false, fmt.Errorf("file %s is %s: %w", f.ID, f.Status, common.ErrInvalidTransition)
		}
		if f.RetryCount >= MaxManualRetries {
			return false, fmt.Errorf("file %s already retried %d times: %w", f.ID, f.RetryCount, common.ErrInvalidTransition)
		}

		stale = f.Chunk
		if err := filestate.Apply(f, filestate.Outcome{Status: models.FilePending, TaskRetry: true}, s.now()); err != nil {
			return false, err
		}
		f.RetryCount++
		if err := r.files.Update(ctx, f); err != nil {
			return false, err
		}
		file = f
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	if stale != nil {
		s.executor.Abort(ctx, file.ID, stale)
	}
	s.logger.Info(ctx, "file re-queued", "task_id", taskID, "file_id", fileID, "retry_count", file.RetryCount)
	s.publishFile(ctx, task, file)

	// A run already in progress picks the file up in its next round.
	s.Start(taskID)
	return file, nil
}
