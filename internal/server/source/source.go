// Package source opens the bytes behind a task file's local path.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dmitrijs2005/gophupload/internal/common"
)

// ReadAtCloser is random-access file content.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Source resolves a client local path to readable content.
type Source interface {
	Open(ctx context.Context, localPath string) (ReadAtCloser, int64, error)
}

// FS serves files below a root directory.
type FS struct {
	root string
}

func NewFS(root string) *FS {
	return &FS{root: root}
}

// Open resolves localPath below the root. Paths are cleaned as if absolute,
// so ".." segments cannot leave the root.
func (f *FS) Open(ctx context.Context, localPath string) (ReadAtCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if strings.ContainsRune(localPath, 0) {
		return nil, 0, common.NewValidationError("local_path", "contains NUL byte")
	}

	full := filepath.Join(f.root, filepath.Clean("/"+filepath.ToSlash(localPath)))
	rel, err := filepath.Rel(f.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, 0, common.NewValidationError("local_path", "escapes source root")
	}

	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("open %q: %w", localPath, common.ErrorNotFound)
		}
		return nil, 0, fmt.Errorf("open %q: %w", localPath, err)
	}

	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat %q: %w", localPath, err)
	}
	if st.IsDir() {
		file.Close()
		return nil, 0, common.NewValidationError("local_path", "%q is a directory", localPath)
	}
	return file, st.Size(), nil
}

// Memory is an in-process Source keyed by local path.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) Add(localPath string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[localPath] = data
}

func (m *Memory) Open(ctx context.Context, localPath string) (ReadAtCloser, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[localPath]
	if !ok {
		return nil, 0, fmt.Errorf("open %q: %w", localPath, common.ErrorNotFound)
	}
	return nopCloser{bytes.NewReader(data)}, int64(len(data)), nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
