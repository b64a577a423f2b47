package services

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/objectstore"
	"github.com/dustin/go-humanize"
)

// Archive is a ZIP of a task's stored files, kept under temp/archives.
type Archive struct {
	StorageKey string
	URL        string
	ExpiresAt  time.Time
	Files      int
	Size       int64
}

// ArchiveTask packs every successful file of a finished task into one ZIP,
// entries named by virtual path, uploads it and signs a download URL.
// Objects are read back through short-lived signed URLs.
func (s *UploadService) ArchiveTask(ctx context.Context, taskID string, ttl time.Duration) (*Archive, error) {
	task, err := s.repos.Tasks(s.db).Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskCompleted && task.Status != models.TaskFailed {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status, common.ErrInvalidTransition)
	}

	links, err := s.DownloadLinks(ctx, taskID, MinLinkTTL)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("task %s has no stored files: %w", taskID, common.ErrInvalidTransition)
	}

	tmp, err := os.CreateTemp("", "gophupload-archive-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	zw := zip.NewWriter(tmp)
	names := make(map[string]int, len(links))
	modified := s.now()
	for _, l := range links {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entryName(l.VirtualPath, names),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", l.VirtualPath, err)
		}
		if _, err := s.fetch.Download(ctx, l.URL, w); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", l.StorageKey, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	key := objectstore.ArchiveKey(taskID)
	if _, err := s.store.Put(ctx, key, tmp, size, "application/zip"); err != nil {
		return nil, fmt.Errorf("upload archive: %w", err)
	}

	ttl = ClampLinkTTL(ttl, s.opts.DefaultLinkTTL)
	url, err := s.store.SignedURL(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", key, err)
	}

	s.logger.Info(ctx, "task archived", "task_id", taskID, "key", key,
		"files", len(links), "size", humanize.Bytes(uint64(size)))
	return &Archive{
		StorageKey: key,
		URL:        url,
		ExpiresAt:  s.now().Add(ttl),
		Files:      len(links),
		Size:       size,
	}, nil
}

// entryName turns a virtual path into a relative ZIP entry name. Repeated
// names get a " (n)" suffix before the extension.
func entryName(virtualPath string, seen map[string]int) string {
	name := strings.TrimLeft(virtualPath, "/")
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}
