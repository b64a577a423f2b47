package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/filestate"
	"github.com/dmitrijs2005/gophupload/internal/server/manifest"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/notify"
)

// AdvanceFile applies a transfer outcome to one file and folds it into the
// task aggregates. It is the only place file outcomes reach the task.
func (s *UploadService) AdvanceFile(ctx context.Context, taskID, fileID string, o filestate.Outcome) (*models.TaskFile, error) {
	var (
		file          *models.TaskFile
		statusChanged bool
		countersMoved bool
	)
	task, err := s.mutateTask(ctx, taskID, func(ctx context.Context, r txRepos, task *models.UploadTask) (bool, error) {
		switch task.Status {
		case models.TaskCompleted, models.TaskFailed:
			return false, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, common.ErrInvalidTransition)
		case models.TaskCancelled:
			// Cancel cleanup still fails the files left open.
			if o.Status != models.FileFailed {
				return false, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, common.ErrInvalidTransition)
			}
		}

		f, err := r.files.Get(ctx, fileID)
		if err != nil {
			return false, err
		}
		if f.TaskID != task.ID {
			return false, fmt.Errorf("file %s of task %s: %w", fileID, taskID, common.ErrorNotFound)
		}

		prev := f.Status
		wasSuccess := prev.IsSuccess()
		if err := filestate.Apply(f, o, s.now()); err != nil {
			return false, err
		}
		if err := r.files.Update(ctx, f); err != nil {
			return false, err
		}
		file = f
		statusChanged = prev != f.Status

		changed := false
		if !wasSuccess && f.Status.IsSuccess() {
			task.UploadedFiles++
			task.UploadedSize += f.Size
			clampCounters(task)
			countersMoved = true
			changed = true
		}
		if task.Status == models.TaskPending && f.Status == models.FileUploading {
			task.Status = models.TaskUploading
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	if statusChanged || o.Status == models.FileUploading {
		s.publishFile(ctx, task, file)
	}
	if countersMoved {
		s.publishTask(ctx, notify.TaskProgress, task)
	}
	return file, nil
}

// Finalization is the result of FinalizeIfComplete.
type Finalization struct {
	Task *models.UploadTask
	// Done is set once the task is terminal.
	Done bool
	// Retried lists files reset to pending by a task-level retry.
	Retried []string
}

// FinalizeIfComplete settles a task whose files are all terminal. A task
// with transiently failed files gets another round while its retry budget
// lasts; otherwise it ends failed and keeps its successful files.
func (s *UploadService) FinalizeIfComplete(ctx context.Context, taskID string) (*Finalization, error) {
	res := &Finalization{}
	var (
		stale   []*models.TaskFile
		settled bool
	)

	task, err := s.mutateTask(ctx, taskID, func(ctx context.Context, r txRepos, task *models.UploadTask) (bool, error) {
		if task.Status.IsTerminal() {
			res.Done = true
			return false, nil
		}

		files, err := r.files.ListByTask(ctx, task.ID)
		if err != nil {
			return false, err
		}
		var failed []*models.TaskFile
		for _, f := range files {
			if !f.Status.IsTerminal() {
				return false, nil
			}
			if f.Status == models.FileFailed {
				failed = append(failed, f)
			}
		}

		now := s.now()
		if len(failed) == 0 {
			task.Status = models.TaskCompleted
			task.ErrorMessage = ""
			task.CompletedAt = &now
			raw, err := manifest.Encode(task, files)
			if err != nil {
				return false, err
			}
			task.StorageManifest = raw
			res.Done, settled = true, true
			return true, nil
		}

		var retriable []*models.TaskFile
		for _, f := range failed {
			if f.ErrorKind == common.KindTransient {
				retriable = append(retriable, f)
			}
		}
		if len(retriable) > 0 && task.RetryCount < s.opts.TaskRetryBudget {
			task.RetryCount++
			for _, f := range retriable {
				if f.Chunk != nil {
					stale = append(stale, &models.TaskFile{ID: f.ID, Chunk: f.Chunk})
				}
				if err := filestate.Apply(f, filestate.Outcome{Status: models.FilePending, TaskRetry: true}, now); err != nil {
					return false, err
				}
				if err := r.files.Update(ctx, f); err != nil {
					return false, err
				}
				res.Retried = append(res.Retried, f.ID)
			}
			return true, nil
		}

		task.Status = models.TaskFailed
		task.StorageManifest = nil
		task.CompletedAt = &now
		task.ErrorMessage = fmt.Errorf("%d of %d files failed: %w", len(failed), len(files), common.ErrPartialTaskFailure).Error()
		res.Done, settled = true, true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	res.Task = task

	for _, f := range stale {
		s.executor.Abort(ctx, f.ID, f.Chunk)
	}

	switch {
	case len(res.Retried) > 0:
		s.logger.Info(ctx, "task retry", "task_id", taskID, "round", task.RetryCount, "files", len(res.Retried))
	case settled && task.Status == models.TaskCompleted:
		s.logger.Info(ctx, "task completed", "task_id", taskID, "files", task.UploadedFiles)
		s.publishTask(ctx, notify.TaskCompleted, task)
	case settled && task.Status == models.TaskFailed:
		s.logger.Warn(ctx, "task failed", "task_id", taskID, "error", task.ErrorMessage)
		s.publishTask(ctx, notify.TaskFailed, task)
	}
	return res, nil
}
