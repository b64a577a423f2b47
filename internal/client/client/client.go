package client

import (
	"context"

	"github.com/dmitrijs2005/gophupload/internal/api"
)

// Client is the CLI's view of the upload service.
type Client interface {
	Close() error
	Ping(ctx context.Context) error
	Submit(ctx context.Context, manifest []byte, hold bool) (*api.Task, error)
	GetTask(ctx context.Context, taskID string) (*api.Task, error)
	ListTasks(ctx context.Context, status string, offset, limit int) ([]api.Task, error)
	ListFiles(ctx context.Context, taskID string) ([]api.File, error)
	CheckDuplicates(ctx context.Context, taskID string, fingerprints []string) (*api.CheckDuplicatesResponse, error)
	Progress(ctx context.Context, taskID string) (*api.ProgressResponse, error)
	Cancel(ctx context.Context, taskID string) (*api.Task, error)
	Delete(ctx context.Context, taskID string, purge bool) error
	ExportManifest(ctx context.Context, taskID string, allowPartial bool) ([]byte, error)
	DownloadLinks(ctx context.Context, taskID string, ttlSeconds int64) ([]api.DownloadLink, error)
	RetryFile(ctx context.Context, taskID, fileID string) (*api.File, error)
	Archive(ctx context.Context, taskID string, ttlSeconds int64) (*api.ArchiveTaskResponse, error)
}
