package services

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveStored lets the fetcher answer the signed URL of every stored file.
func serveStored(h *harness, taskID string, content map[string][]byte) *fakeFetcher {
	f := &fakeFetcher{bodies: make(map[string][]byte)}
	for _, file := range h.db.filesOf(taskID) {
		if file.StorageKey != "" {
			f.bodies["https://signed.example/"+file.StorageKey] = content[file.LocalPath]
		}
	}
	h.svc.fetch = f
	return f
}

func readZip(t *testing.T, raw []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	out := make(map[string]string)
	for _, e := range zr.File {
		rc, err := e.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[e.Name] = string(b)
	}
	return out
}

func TestArchiveTask_ZipsStoredFilesByVirtualPath(t *testing.T) {
	exec := newFakeTransfer()
	h := newHarness(t, exec, UploadOptions{})
	ctx := context.Background()

	content := map[string][]byte{
		"x/a.txt":   []byte("first a"),
		"y/a.txt":   []byte("second a"),
		"z/b.txt":   []byte("bee"),
		"dup/b.txt": []byte("bee"),
	}
	task := h.submit(t, "u",
		testFile{path: "x/a.txt", folder: "/Docs", data: content["x/a.txt"], fp: md5hex(content["x/a.txt"])},
		testFile{path: "y/a.txt", folder: "/Docs", data: content["y/a.txt"], fp: md5hex(content["y/a.txt"])},
		testFile{path: "z/b.txt", folder: "/Docs/2024", data: content["z/b.txt"], fp: md5hex(content["z/b.txt"])},
		testFile{path: "dup/b.txt", folder: "/Other", data: content["dup/b.txt"], fp: md5hex(content["dup/b.txt"])},
	)
	require.NoError(t, h.svc.Run(ctx, task.ID))
	require.Equal(t, models.TaskCompleted, h.db.task(task.ID).Status)
	serveStored(h, task.ID, content)

	arch, err := h.svc.ArchiveTask(ctx, task.ID, 2*time.Hour)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(arch.StorageKey, "temp/archives/"+task.ID+"-"))
	assert.Equal(t, "https://signed.example/"+arch.StorageKey, arch.URL)
	assert.Equal(t, 4, arch.Files)

	h.store.mu.Lock()
	raw := h.store.puts[arch.StorageKey]
	ttls := append([]time.Duration(nil), h.store.ttls...)
	h.store.mu.Unlock()
	assert.Equal(t, int64(len(raw)), arch.Size)
	assert.Equal(t, 2*time.Hour, ttls[len(ttls)-1])

	entries := readZip(t, raw)
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Docs/2024/b.txt", "Docs/a (1).txt", "Docs/a.txt", "Other/b.txt"}, names)
	assert.Equal(t, "bee", entries["Other/b.txt"])
	assert.ElementsMatch(t, []string{"first a", "second a"}, []string{entries["Docs/a.txt"], entries["Docs/a (1).txt"]})
}

func TestArchiveTask_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("active task", func(t *testing.T) {
		h := newHarness(t, newFakeTransfer(), UploadOptions{})
		task := h.submit(t, "u", testFile{path: "a", data: []byte("a")})
		_, err := h.svc.ArchiveTask(ctx, task.ID, 0)
		assert.ErrorIs(t, err, common.ErrInvalidTransition)
	})

	t.Run("nothing stored", func(t *testing.T) {
		h := newHarness(t, newFakeTransfer(), UploadOptions{})
		task := h.submit(t, "u", testFile{path: "gone", data: []byte("a")})
		setTaskStatus(h, task.ID, models.TaskFailed)
		_, err := h.svc.ArchiveTask(ctx, task.ID, 0)
		assert.ErrorIs(t, err, common.ErrInvalidTransition)
	})

	t.Run("unreadable object", func(t *testing.T) {
		h := newHarness(t, newFakeTransfer(), UploadOptions{})
		task := h.submit(t, "u", testFile{path: "a", data: []byte("a")})
		require.NoError(t, h.svc.Run(ctx, task.ID))
		h.svc.fetch = &fakeFetcher{bodies: map[string][]byte{}}

		_, err := h.svc.ArchiveTask(ctx, task.ID, 0)
		assert.ErrorContains(t, err, "404")
		assert.Empty(t, h.store.puts)
	})

	t.Run("unknown task", func(t *testing.T) {
		h := newHarness(t, newFakeTransfer(), UploadOptions{})
		_, err := h.svc.ArchiveTask(ctx, "nope", 0)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})
}

func TestEntryName(t *testing.T) {
	seen := make(map[string]int)
	assert.Equal(t, "Docs/a.txt", entryName("/Docs/a.txt", seen))
	assert.Equal(t, "Docs/a (1).txt", entryName("/Docs/a.txt", seen))
	assert.Equal(t, "Docs/a (2).txt", entryName("/Docs/a.txt", seen))
	assert.Equal(t, "Makefile", entryName("/Makefile", seen))
	assert.Equal(t, "Makefile (1)", entryName("/Makefile", seen))
}
