package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/manifest"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

const (
	DefaultLinkTTL = time.Hour
	MinLinkTTL     = time.Minute
	MaxLinkTTL     = 24 * time.Hour

	defaultPageSize = 20
	maxPageSize     = 100
)

// GetTask returns the task when it belongs to userID.
func (s *UploadService) GetTask(ctx context.Context, userID, taskID string) (*models.UploadTask, error) {
	task, err := s.repos.Tasks(s.db).Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return task, nil
}

// ListTasks pages through a user's tasks, newest first. An empty status
// matches all.
func (s *UploadService) ListTasks(ctx context.Context, userID string, status models.TaskStatus, offset, limit int) ([]*models.UploadTask, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.repos.Tasks(s.db).ListByUser(ctx, userID, status, offset, limit)
}

func (s *UploadService) ListFiles(ctx context.Context, taskID string) ([]*models.TaskFile, error) {
	return s.repos.TaskFiles(s.db).ListByTask(ctx, taskID)
}

// TaskProgress is a point-in-time view of a task.
type TaskProgress struct {
	TaskID        string
	Status        models.TaskStatus
	TotalFiles    int
	UploadedFiles int
	TotalSize     int64
	UploadedSize  int64
	Percent       float64
	ByStatus      map[models.FileStatus]int
}

func (s *UploadService) Progress(ctx context.Context, taskID string) (*TaskProgress, error) {
	task, err := s.repos.Tasks(s.db).Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	files, err := s.repos.TaskFiles(s.db).ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	p := &TaskProgress{
		TaskID:        task.ID,
		Status:        task.Status,
		TotalFiles:    task.TotalFiles,
		UploadedFiles: task.UploadedFiles,
		TotalSize:     task.TotalSize,
		UploadedSize:  task.UploadedSize,
		Percent:       task.ProgressPercent(),
		ByStatus:      make(map[models.FileStatus]int),
	}
	for _, f := range files {
		p.ByStatus[f.Status]++
	}
	return p, nil
}

// ExportManifest returns the storage manifest of a completed task. For a
// failed task the fragment of successful files is returned only when
// allowPartial is set.
func (s *UploadService) ExportManifest(ctx context.Context, taskID string, allowPartial bool) ([]byte, error) {
	task, err := s.repos.Tasks(s.db).Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case models.TaskCompleted:
		return task.StorageManifest, nil
	case models.TaskFailed:
		if !allowPartial {
			return nil, fmt.Errorf("task %s failed, manifest is partial: %w", taskID, common.ErrInvalidTransition)
		}
		files, err := s.repos.TaskFiles(s.db).ListByTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return manifest.Encode(task, files)
	default:
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status, common.ErrInvalidTransition)
	}
}

// DownloadLink is a signed GET URL for one stored file.
type DownloadLink struct {
	FileID      string
	LocalPath   string
	VirtualPath string
	StorageKey  string
	URL         string
	ExpiresAt   time.Time
}

// ClampLinkTTL applies the default to zero and bounds ttl to a minute..a day.
func ClampLinkTTL(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = def
	}
	if ttl < MinLinkTTL {
		return MinLinkTTL
	}
	if ttl > MaxLinkTTL {
		return MaxLinkTTL
	}
	return ttl
}

// DownloadLinks signs a GET URL for every successful file of the task.
func (s *UploadService) DownloadLinks(ctx context.Context, taskID string, ttl time.Duration) ([]DownloadLink, error) {
	files, err := s.repos.TaskFiles(s.db).ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ttl = ClampLinkTTL(ttl, s.opts.DefaultLinkTTL)
	expires := s.now().Add(ttl)

	var links []DownloadLink
	for _, f := range files {
		if !f.Status.IsSuccess() || f.StorageKey == "" {
			continue
		}
		url, err := s.store.SignedURL(ctx, f.StorageKey, ttl)
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", f.StorageKey, err)
		}
		links = append(links, DownloadLink{
			FileID:      f.ID,
			LocalPath:   f.LocalPath,
			VirtualPath: f.VirtualPath(),
			StorageKey:  f.StorageKey,
			URL:         url,
			ExpiresAt:   expires,
		})
	}
	return links, nil
}
