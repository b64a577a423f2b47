package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/dmitrijs2005/gophupload/internal/server/filestate"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/notify"
)

// Cancel moves a pending or uploading task to cancelled and stops its run.
// In-flight chunks finish, no new chunk or file starts, and open multipart
// sessions are aborted. Completed objects follow the cancel policy.
func (s *UploadService) Cancel(ctx context.Context, taskID string) (*models.UploadTask, error) {
	task, err := s.mutateTask(ctx, taskID, func(ctx context.Context, r txRepos, task *models.UploadTask) (bool, error) {
		if !task.Status.CanTransitionTo(models.TaskCancelled) {
			return false, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, common.ErrInvalidTransition)
		}
		task.Status = models.TaskCancelled
		task.ErrorMessage = common.ErrTaskCancelled.Error()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "task cancelled", "task_id", taskID)
	s.publishTask(ctx, notify.TaskStatus, task)

	s.mu.Lock()
	run := s.running[taskID]
	s.mu.Unlock()

	if run == nil {
		s.cleanupCancelled(ctx, taskID)
		return task, nil
	}

	// The run goroutine cleans up once its workers have stopped.
	run.cancel(common.ErrTaskCancelled)
	select {
	case <-run.done:
	case <-ctx.Done():
	}
	return task, nil
}

// cleanupCancelled aborts leftover sessions, fails unfinished files and
// applies the cancel policy.
func (s *UploadService) cleanupCancelled(ctx context.Context, taskID string) {
	files, err := s.repos.TaskFiles(s.db).ListByTask(ctx, taskID)
	if err != nil {
		s.logger.Error(ctx, "list files of cancelled task", "task_id", taskID, "error", err)
		return
	}

	for _, f := range files {
		if f.Chunk != nil {
			s.executor.Abort(ctx, f.ID, f.Chunk)
		}
		if !f.Status.IsTerminal() {
			_, err := s.AdvanceFile(ctx, taskID, f.ID, filestate.Outcome{Status: models.FileFailed, Err: common.ErrTaskCancelled})
			if err != nil {
				s.logger.Warn(ctx, "fail cancelled file", "task_id", taskID, "file_id", f.ID, "error", err)
			}
		}
	}

	if s.opts.CancelPolicy == CancelPurge {
		s.purgeObjects(ctx, taskID, files)
	}
}

// DeleteTask removes a terminal task and its files. With purge, stored
// objects that no other task references are deleted too.
func (s *UploadService) DeleteTask(ctx context.Context, taskID string, purge bool) error {
	unlock := s.locks.lock(taskID)
	task, err := s.repos.Tasks(s.db).Get(ctx, taskID)
	if err != nil {
		unlock()
		return err
	}
	if !task.Status.IsTerminal() {
		unlock()
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, common.ErrInvalidTransition)
	}
	files, err := s.repos.TaskFiles(s.db).ListByTask(ctx, taskID)
	if err != nil {
		unlock()
		return err
	}
	err = s.repos.Tasks(s.db).Delete(ctx, taskID)
	unlock()
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "task deleted", "task_id", taskID, "purge", purge)
	if purge {
		s.purgeObjects(ctx, taskID, files)
	}
	return nil
}

// purgeObjects deletes objects first stored by this task's files when no
// other task references them. Duplicates point at content owned elsewhere.
// The index row goes first, under a row lock, so no new duplicate can be
// pointed at content about to leave the store.
func (s *UploadService) purgeObjects(ctx context.Context, taskID string, files []*models.TaskFile) {
	seen := make(map[string]bool)

	for _, f := range files {
		if f.ObjectID == "" || f.IsDuplicate || seen[f.ObjectID] {
			continue
		}
		seen[f.ObjectID] = true

		var gone bool
		err := withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			gone, err = s.repos.Objects(tx).DeleteUnreferenced(ctx, f.ObjectID, taskID)
			return err
		})
		if err != nil {
			s.logger.Warn(ctx, "release object", "object_id", f.ObjectID, "error", err)
			continue
		}
		if !gone {
			continue
		}
		if err := s.store.Delete(ctx, f.StorageKey); err != nil {
			s.logger.Warn(ctx, "purge object", "key", f.StorageKey, "error", err)
		}
	}
}
