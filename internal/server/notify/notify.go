// Package notify delivers fire-and-forget task and file events.
package notify

import (
	"context"
	"time"
)

type EventType string

const (
	TaskStatus    EventType = "task_status"
	TaskProgress  EventType = "task_progress"
	FileStatus    EventType = "file_status"
	TaskCompleted EventType = "task_completed"
	TaskFailed    EventType = "task_failed"
)

// Event is one notification about a task or one of its files.
type Event struct {
	Type          EventType `json:"type"`
	TaskID        string    `json:"task_id"`
	FileID        string    `json:"file_id,omitempty"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status,omitempty"`
	Progress      float64   `json:"progress"`
	UploadedFiles int       `json:"uploaded_files,omitempty"`
	TotalFiles    int       `json:"total_files,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink receives events. Implementations must not block the caller for long;
// delivery failures are the sink's problem.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}
