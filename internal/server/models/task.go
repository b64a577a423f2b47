// Package models defines server-side data models persisted in the database.
package models

import "time"

// TaskStatus is the lifecycle state of an UploadTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskUploading TaskStatus = "uploading"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// A task only becomes uploading when one of its files starts a transfer, so
// pending may finish directly: completed when every file was deduplicated
// before the first transfer, failed when every file failed before reaching
// the store (unreadable source, aborted run).
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:   {TaskUploading, TaskCompleted, TaskFailed, TaskCancelled},
	TaskUploading: {TaskCompleted, TaskFailed, TaskCancelled},
}

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// CanTransitionTo reports whether s -> next is a forward transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UploadTask is one batch upload operation.
type UploadTask struct {
	// ID is the task identifier (UUID).
	ID string
	// UserID is the owner of the task, taken from the access token.
	UserID string
	// DriveID is the target virtual drive.
	DriveID string
	// Name is a human-readable task name.
	Name string
	// Status is the current lifecycle state.
	Status TaskStatus
	// Priority in 0..10, higher runs first when several tasks are resumed.
	Priority int

	TotalFiles    int
	UploadedFiles int
	TotalSize     int64
	UploadedSize  int64

	// UploadManifest is the manifest as submitted by the client.
	UploadManifest []byte
	// StorageManifest is set if and only if Status is completed.
	StorageManifest []byte

	ErrorMessage string
	// RetryCount counts task-level retry rounds already spent.
	RetryCount int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ProgressPercent is uploaded_size/total_size as 0..100. An empty task
// reports file-based progress instead.
func (t *UploadTask) ProgressPercent() float64 {
	if t.TotalSize > 0 {
		return float64(t.UploadedSize) / float64(t.TotalSize) * 100
	}
	if t.TotalFiles > 0 {
		return float64(t.UploadedFiles) / float64(t.TotalFiles) * 100
	}
	return 0
}
