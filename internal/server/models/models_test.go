package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus_Transitions(t *testing.T) {
	assert.True(t, TaskPending.CanTransitionTo(TaskUploading))
	assert.True(t, TaskPending.CanTransitionTo(TaskCancelled))
	assert.True(t, TaskUploading.CanTransitionTo(TaskCompleted))
	assert.True(t, TaskUploading.CanTransitionTo(TaskFailed))
	assert.True(t, TaskUploading.CanTransitionTo(TaskCancelled))

	assert.False(t, TaskUploading.CanTransitionTo(TaskPending))
	assert.False(t, TaskPending.CanTransitionTo(TaskPending))
	for _, terminal := range []TaskStatus{TaskCompleted, TaskFailed, TaskCancelled} {
		assert.True(t, terminal.IsTerminal())
		for _, next := range []TaskStatus{TaskPending, TaskUploading, TaskCompleted, TaskFailed, TaskCancelled} {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
}

func TestVirtualPath(t *testing.T) {
	assert.Equal(t, "/docs/a.txt", VirtualPath("/docs/", "a.txt"))
	assert.Equal(t, "/docs/a.txt", VirtualPath("/docs", "a.txt"))
	assert.Equal(t, "/a.txt", VirtualPath("/", "a.txt"))
	f := &TaskFile{TargetFolderPath: "/x//", FileName: "y"}
	assert.Equal(t, "/x/y", f.VirtualPath())
}

func TestUploadTask_ProgressPercent(t *testing.T) {
	assert.Equal(t, 50.0, (&UploadTask{TotalSize: 200, UploadedSize: 100}).ProgressPercent())
	assert.Equal(t, 25.0, (&UploadTask{TotalFiles: 4, UploadedFiles: 1}).ProgressPercent())
	assert.Equal(t, 0.0, (&UploadTask{}).ProgressPercent())
}

func TestChunkState_ConfirmAndOrder(t *testing.T) {
	c := &ChunkState{TotalChunks: 3}
	c.Confirm(2, "t2")
	c.Confirm(0, "t0")
	c.Confirm(0, "other")

	assert.Equal(t, []int{0, 2}, c.ConfirmedIndices)
	assert.Equal(t, []int{1}, c.Missing())
	_, ok := c.OrderedTokens()
	assert.False(t, ok)

	c.Confirm(1, "t1")
	tokens, ok := c.OrderedTokens()
	assert.True(t, ok)
	assert.Equal(t, []string{"t0", "t1", "t2"}, tokens)
}

func TestChunkState_Header(t *testing.T) {
	c := &ChunkState{SessionID: "s", StorageKey: "k", ChunkSize: 5, TotalChunks: 2}
	c.Confirm(0, "t")
	h := c.Header()
	assert.Empty(t, h.Tokens)
	assert.Empty(t, h.ConfirmedIndices)
	assert.Equal(t, "s", h.SessionID)
}

func TestTaskStatus_PendingFinishesWithoutUploading(t *testing.T) {
	// every file deduplicated before any transfer started
	assert.True(t, TaskPending.CanTransitionTo(TaskCompleted))
	// every file failed before reaching the store
	assert.True(t, TaskPending.CanTransitionTo(TaskFailed))
}
