// Package filestate holds the per-file lifecycle rules, the per-file retry
// policy and the monotonic progress tracker.
package filestate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/sethvargo/go-retry"
)

var transitions = map[models.FileStatus][]models.FileStatus{
	models.FilePending:   {models.FileUploading, models.FileSkipped, models.FileFailed},
	models.FileUploading: {models.FileCompleted, models.FileFailed},
}

// CanTransition reports whether a file may move from one status to another.
// failed -> pending is only valid when a task-level retry resets the file.
func CanTransition(from, to models.FileStatus, taskRetry bool) bool {
	if from == models.FileFailed && to == models.FilePending {
		return taskRetry
	}
	// A resumed worker re-enters uploading.
	if from == models.FileUploading && to == models.FileUploading {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply moves f to the status carried by o and copies the outcome fields.
func Apply(f *models.TaskFile, o Outcome, now time.Time) error {
	if !CanTransition(f.Status, o.Status, o.TaskRetry) {
		return fmt.Errorf("file %s: %s -> %s: %w", f.ID, f.Status, o.Status, common.ErrInvalidTransition)
	}

	f.Status = o.Status
	f.UpdatedAt = now
	switch o.Status {
	case models.FileUploading:
		f.ErrorMessage, f.ErrorKind = "", ""
		if o.Progress > f.Progress && o.Progress < 100 {
			f.Progress = o.Progress
		}
	case models.FileCompleted:
		f.Progress = 100
		f.ObjectID = o.ObjectID
		f.StorageKey = o.StorageKey
		f.StorageURL = o.StorageURL
		if o.Fingerprint != "" {
			f.Fingerprint = o.Fingerprint
		}
		f.IsDuplicate = o.Duplicate
		if o.Duplicate {
			f.DuplicatedFrom = o.ObjectID
		}
		f.Chunk = nil
		f.ErrorMessage, f.ErrorKind = "", ""
		f.CompletedAt = &now
	case models.FileFailed:
		msg := "upload failed"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		f.ErrorMessage = msg
		f.ErrorKind = common.ErrorKind(o.Err)
		if f.ErrorKind == "" {
			f.ErrorKind = common.KindInternal
		}
		f.RetryCount += o.Attempts
		if f.Progress >= 100 {
			f.Progress = 99
		}
	case models.FilePending:
		f.Progress = 0
		f.Chunk = nil
		f.ErrorMessage, f.ErrorKind = "", ""
	}
	return nil
}

// Outcome is what a transfer worker reports for one file.
type Outcome struct {
	Status   models.FileStatus
	Progress float64

	ObjectID    string
	StorageKey  string
	StorageURL  string
	Fingerprint string
	Duplicate   bool
	// Size is the number of bytes accounted to the task on success.
	Size int64

	Err error
	// Attempts is the number of transient failures seen.
	Attempts int
	// TaskRetry marks a reset to pending by the task-level retry budget or a
	// manual file retry.
	TaskRetry bool
}

// RetryPolicy bounds per-file retries of transient transfer errors.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// DefaultRetryPolicy is 3 attempts with 500ms exponential backoff capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, JitterPercent: 10}
}

// Backoff builds the go-retry backoff for the policy.
func (p RetryPolicy) Backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns a non-transient error or the policy is
// exhausted. It returns the number of transient failures seen; terminal
// errors are not counted.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var transient int
	err := retry.Do(ctx, p.Backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if common.IsRetriable(err) {
			transient++
			return retry.RetryableError(err)
		}
		return err
	})
	return transient, err
}

// Tracker reports monotonic non-decreasing progress for one file.
type Tracker struct {
	mu   sync.Mutex
	last float64
	emit func(float64)
}

// NewTracker starts at start and forwards increases to emit.
func NewTracker(start float64, emit func(float64)) *Tracker {
	return &Tracker{last: start, emit: emit}
}

// Report clamps p to [0,100] and forwards it only if it exceeds the last
// reported value. emit runs under the tracker lock so values arrive in order.
func (t *Tracker) Report(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p <= t.last {
		return
	}
	t.last = p
	if t.emit != nil {
		t.emit(p)
	}
}

// Value returns the last reported progress.
func (t *Tracker) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
