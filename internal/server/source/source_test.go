package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_Open(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("hello"), 0o644))

	src := NewFS(root)
	r, size, err := src.Open(context.Background(), "docs/a.txt")
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, 5, size)

	buf, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestFS_Open_Errors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))
	src := NewFS(root)

	_, _, err := src.Open(context.Background(), "missing.bin")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, _, err = src.Open(context.Background(), "dir")
	assert.ErrorIs(t, err, common.ErrValidation)

	// Traversal is clamped to the root, so this looks for <root>/etc/passwd.
	_, _, err = src.Open(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = src.Open(ctx, "dir")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	m.Add("/a", []byte("abc"))

	r, n, err := m.Open(context.Background(), "/a")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	b := make([]byte, 2)
	_, err = r.ReadAt(b, 1)
	require.NoError(t, err)
	assert.Equal(t, "bc", string(b))
	assert.NoError(t, r.Close())

	_, _, err = m.Open(context.Background(), "/b")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
