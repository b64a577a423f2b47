package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/dedup"
	"github.com/dmitrijs2005/gophupload/internal/server/filestate"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/notify"
	"github.com/dmitrijs2005/gophupload/internal/server/objectstore"
	"github.com/dmitrijs2005/gophupload/internal/server/transfer"
	"golang.org/x/sync/errgroup"
)

type taskRun struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Start drives the task in the background. It reports false when the task
// is already running in this process.
func (s *UploadService) Start(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[taskID]; ok {
		return false
	}

	ctx, cancel := context.WithCancelCause(s.baseCtx)
	run := &taskRun{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.running[taskID] = run

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(run.done)
		defer func() {
			s.mu.Lock()
			delete(s.running, taskID)
			s.mu.Unlock()
			cancel(nil)
		}()

		err := s.Run(ctx, taskID)
		switch {
		case errors.Is(context.Cause(ctx), common.ErrTaskCancelled):
			s.cleanupCancelled(context.WithoutCancel(ctx), taskID)
		case ctx.Err() != nil:
			s.logger.Info(ctx, "task run suspended", "task_id", taskID)
		case err != nil:
			s.logger.Error(ctx, "task run failed", "task_id", taskID, "error", err)
			s.abandonRun(context.WithoutCancel(ctx), taskID, err)
		}
	}()
	return true
}

// ResumeActive restarts every pending or uploading task, highest priority
// first. Files left uploading resume their multipart sessions.
func (s *UploadService) ResumeActive(ctx context.Context) (int, error) {
	active, err := s.repos.Tasks(s.db).ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active tasks: %w", err)
	}
	n := 0
	for _, t := range active {
		if s.Start(t.ID) {
			n++
		}
	}
	if n > 0 {
		s.logger.Info(ctx, "resumed tasks", "count", n)
	}
	return n, nil
}

// Shutdown stops all runs without cancelling their tasks and waits for the
// workers to return. Open multipart sessions are kept for resume.
func (s *UploadService) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives a task until it is terminal or ctx ends. Each round dedups the
// dispatchable files against the index and transfers one file per content
// group; files sharing content with a finished leader are skipped by the
// next round's dedup pass.
func (s *UploadService) Run(ctx context.Context, taskID string) error {
	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		task, err := s.repos.Tasks(s.db).Get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return nil
		}

		files, err := s.repos.TaskFiles(s.db).ListByTask(ctx, taskID)
		if err != nil {
			return err
		}
		todo := dispatchable(files)
		if len(todo) == 0 {
			fin, err := s.FinalizeIfComplete(ctx, taskID)
			if err != nil {
				return err
			}
			if fin.Done {
				return nil
			}
			// Either a task retry reset files or a file was reopened since
			// the listing; the next round dispatches them.
			continue
		}

		if _, err := s.CheckDuplicates(ctx, taskID, fingerprints(todo)); err != nil {
			return err
		}
		files, err = s.repos.TaskFiles(s.db).ListByTask(ctx, taskID)
		if err != nil {
			return err
		}
		leaders, _ := dedup.Groups(dispatchable(files))
		if err := s.runWave(ctx, task, leaders); err != nil {
			return err
		}
	}
}

func (s *UploadService) runWave(ctx context.Context, task *models.UploadTask, files []*models.TaskFile) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentFiles)

	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return s.runFile(gctx, task, f)
		})
	}
	return g.Wait()
}

// runFile transfers one file and records the outcome. File failures are
// recorded, not returned; only bookkeeping errors stop the wave.
func (s *UploadService) runFile(ctx context.Context, task *models.UploadTask, f *models.TaskFile) error {
	if ctx.Err() != nil {
		return nil
	}
	bg := context.WithoutCancel(ctx)

	claimed, err := s.claimFile(ctx, task.ID, f.ID)
	if err != nil || !claimed {
		return err
	}

	r, size, err := s.source.Open(ctx, f.LocalPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		_, aerr := s.AdvanceFile(bg, task.ID, f.ID, filestate.Outcome{Status: models.FileFailed, Err: err})
		return aerr
	}
	defer r.Close()

	req := &transfer.Request{
		File:       f,
		Source:     r,
		Size:       size,
		StorageKey: objectstore.NewKey(s.now(), f.FileName),
		Progress: func(p float64) {
			if _, err := s.AdvanceFile(bg, task.ID, f.ID, filestate.Outcome{Status: models.FileUploading, Progress: p}); err != nil {
				s.logger.Warn(ctx, "record progress", "task_id", task.ID, "file_id", f.ID, "error", err)
			}
		},
	}

	var res *transfer.Result
	attempts, err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var terr error
		res, terr = s.executor.Transfer(ctx, req)
		return terr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn(ctx, "file failed", "task_id", task.ID, "file_id", f.ID,
			"kind", common.ErrorKind(err), "attempts", attempts, "error", err)
		_, aerr := s.AdvanceFile(bg, task.ID, f.ID, filestate.Outcome{Status: models.FileFailed, Err: err, Attempts: attempts})
		return aerr
	}

	outcome, err := s.register(bg, res)
	if err != nil {
		_, aerr := s.AdvanceFile(bg, task.ID, f.ID, filestate.Outcome{Status: models.FileFailed, Err: err, Attempts: attempts})
		return aerr
	}
	outcome.Attempts = attempts
	_, err = s.AdvanceFile(bg, task.ID, f.ID, outcome)
	return err
}

// claimFile moves a dispatched file to uploading. It reports false when the
// file was resolved after the round listed it, e.g. skipped by a concurrent
// CheckDuplicates, or when the task is already terminal.
func (s *UploadService) claimFile(ctx context.Context, taskID, fileID string) (bool, error) {
	var file *models.TaskFile
	task, err := s.mutateTask(ctx, taskID, func(ctx context.Context, r txRepos, task *models.UploadTask) (bool, error) {
		if task.Status.IsTerminal() {
			return false, nil
		}
		f, err := r.files.Get(ctx, fileID)
		if err != nil {
			return false, err
		}
		if f.TaskID != task.ID {
			return false, fmt.Errorf("file %s of task %s: %w", fileID, taskID, common.ErrorNotFound)
		}
		if f.Status.IsTerminal() {
			return false, nil
		}
		if err := filestate.Apply(f, filestate.Outcome{Status: models.FileUploading}, s.now()); err != nil {
			return false, err
		}
		if err := r.files.Update(ctx, f); err != nil {
			return false, err
		}
		file = f
		if task.Status == models.TaskPending {
			task.Status = models.TaskUploading
			return true, nil
		}
		return false, nil
	})
	if err != nil || file == nil {
		return false, err
	}
	s.publishFile(ctx, task, file)
	return true, nil
}

// abandonRun settles a task whose run stopped on a bookkeeping error, so it
// does not stay active with nothing driving it. Open files are failed.
func (s *UploadService) abandonRun(ctx context.Context, taskID string, cause error) {
	fin, err := s.FinalizeIfComplete(ctx, taskID)
	if err == nil && fin.Done {
		return
	}

	var (
		stale   []*models.TaskFile
		settled bool
	)
	task, err := s.mutateTask(ctx, taskID, func(ctx context.Context, r txRepos, task *models.UploadTask) (bool, error) {
		if task.Status.IsTerminal() {
			return false, nil
		}
		files, err := r.files.ListByTask(ctx, task.ID)
		if err != nil {
			return false, err
		}
		now := s.now()
		reason := fmt.Errorf("task run aborted: %w", cause)
		failed := 0
		for _, f := range files {
			if f.Status == models.FileFailed {
				failed++
			}
			if f.Status.IsTerminal() {
				continue
			}
			if f.Chunk != nil {
				stale = append(stale, &models.TaskFile{ID: f.ID, Chunk: f.Chunk})
			}
			if err := filestate.Apply(f, filestate.Outcome{Status: models.FileFailed, Err: reason}, now); err != nil {
				return false, err
			}
			if err := r.files.Update(ctx, f); err != nil {
				return false, err
			}
			failed++
		}
		task.Status = models.TaskFailed
		task.StorageManifest = nil
		task.CompletedAt = &now
		task.ErrorMessage = fmt.Errorf("%d of %d files failed: %w", failed, len(files), reason).Error()
		settled = true
		return true, nil
	})
	if err != nil {
		s.logger.Error(ctx, "settle aborted run", "task_id", taskID, "error", err)
		return
	}

	for _, f := range stale {
		s.executor.Abort(ctx, f.ID, f.Chunk)
	}
	if settled {
		s.logger.Warn(ctx, "task failed", "task_id", taskID, "error", task.ErrorMessage)
		s.publishTask(ctx, notify.TaskFailed, task)
	}
}

// register records freshly stored content in the index. When a concurrent
// upload of the same content registered first, the redundant object is
// deleted and the file points at the winner.
func (s *UploadService) register(ctx context.Context, res *transfer.Result) (filestate.Outcome, error) {
	obj := &models.StoredObject{
		Fingerprint: res.Fingerprint,
		StorageKey:  res.StorageKey,
		StorageURL:  objectstore.PublicURL(s.opts.PublicBaseURL, res.StorageKey),
		Size:        res.Size,
		CreatedAt:   s.now(),
	}

	stored, err := s.index.Register(ctx, obj)
	duplicate := false
	if errors.Is(err, common.ErrDedupConflict) {
		duplicate = true
		err = nil
		if stored.StorageKey != res.StorageKey {
			if derr := s.store.Delete(ctx, res.StorageKey); derr != nil {
				s.logger.Warn(ctx, "delete redundant object", "key", res.StorageKey, "error", derr)
			}
		}
	}
	if err != nil {
		if derr := s.store.Delete(ctx, res.StorageKey); derr != nil {
			s.logger.Warn(ctx, "delete unregistered object", "key", res.StorageKey, "error", derr)
		}
		return filestate.Outcome{}, err
	}

	return filestate.Outcome{
		Status:      models.FileCompleted,
		ObjectID:    stored.ID,
		StorageKey:  stored.StorageKey,
		StorageURL:  stored.StorageURL,
		Fingerprint: res.Fingerprint,
		Duplicate:   duplicate,
		Size:        res.Size,
	}, nil
}

func dispatchable(files []*models.TaskFile) []*models.TaskFile {
	var out []*models.TaskFile
	for _, f := range files {
		if f.Status == models.FilePending || f.Status == models.FileUploading {
			out = append(out, f)
		}
	}
	return out
}

func fingerprints(files []*models.TaskFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f.Fingerprint != "" {
			out = append(out, f.Fingerprint)
		}
	}
	return out
}
