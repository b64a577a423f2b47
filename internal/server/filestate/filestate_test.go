package filestate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to  models.FileStatus
		taskRetry bool
		want      bool
	}{
		{models.FilePending, models.FileUploading, false, true},
		{models.FilePending, models.FileSkipped, false, true},
		{models.FilePending, models.FileFailed, false, true},
		{models.FilePending, models.FileCompleted, false, false},
		{models.FileUploading, models.FileUploading, false, true},
		{models.FileUploading, models.FileCompleted, false, true},
		{models.FileUploading, models.FileSkipped, false, false},
		{models.FileFailed, models.FilePending, false, false},
		{models.FileFailed, models.FilePending, true, true},
		{models.FileCompleted, models.FileFailed, false, false},
		{models.FileSkipped, models.FileUploading, false, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.taskRetry))
		})
	}
}

func TestApply_CompletedAndFailed(t *testing.T) {
	now := time.Now()
	f := &models.TaskFile{ID: "f1", Status: models.FileUploading, Progress: 40,
		Chunk: &models.ChunkState{SessionID: "s"}}

	err := Apply(f, Outcome{Status: models.FileCompleted, ObjectID: "o1", StorageKey: "k", Fingerprint: "ab"}, now)
	require.NoError(t, err)
	assert.Equal(t, 100.0, f.Progress)
	assert.Nil(t, f.Chunk)
	assert.Equal(t, "o1", f.ObjectID)
	assert.Equal(t, "ab", f.Fingerprint)
	require.NotNil(t, f.CompletedAt)

	err = Apply(f, Outcome{Status: models.FileFailed}, now)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	g := &models.TaskFile{ID: "f2", Status: models.FileUploading, Progress: 66}
	cause := fmt.Errorf("put: %w", common.ErrTransientTransfer)
	require.NoError(t, Apply(g, Outcome{Status: models.FileFailed, Err: cause, Attempts: 3}, now))
	assert.Equal(t, common.KindTransient, g.ErrorKind)
	assert.Equal(t, cause.Error(), g.ErrorMessage)
	assert.Equal(t, 3, g.RetryCount)
	assert.Less(t, g.Progress, 100.0)

	require.NoError(t, Apply(g, Outcome{Status: models.FilePending, TaskRetry: true}, now))
	assert.Equal(t, 0.0, g.Progress)
	assert.Empty(t, g.ErrorMessage)
}

func TestApply_FailedWithoutErrorStillHasMessage(t *testing.T) {
	f := &models.TaskFile{Status: models.FilePending}
	require.NoError(t, Apply(f, Outcome{Status: models.FileFailed}, time.Now()))
	assert.NotEmpty(t, f.ErrorMessage)
	assert.Equal(t, common.KindInternal, f.ErrorKind)
}

func fastPolicy(n int) RetryPolicy {
	return RetryPolicy{MaxAttempts: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryPolicy_TransientExhausts(t *testing.T) {
	calls := 0
	n, err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("5xx: %w", common.ErrTransientTransfer)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTransientTransfer)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, n)
}

func TestRetryPolicy_TerminalDoesNotRetry(t *testing.T) {
	calls := 0
	n, err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("denied: %w", common.ErrQuotaOrPermission)
	})
	assert.ErrorIs(t, err, common.ErrQuotaOrPermission)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, n)
}

func TestRetryPolicy_RecoversAfterTransient(t *testing.T) {
	calls := 0
	n, err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, n)
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := RetryPolicy{}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return common.ErrTransientTransfer
	})
	assert.True(t, errors.Is(err, common.ErrTransientTransfer))
	assert.Equal(t, 1, calls)
}

func TestTracker_Monotonic(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []float64
	)
	tr := NewTracker(0, func(p float64) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	values := make([]float64, 200)
	for i := range values {
		values[i] = float64(rand.Intn(120) - 10)
	}
	var wg sync.WaitGroup
	for _, v := range values {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			tr.Report(v)
		}(v)
	}
	wg.Wait()

	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("progress decreased at %d: %v -> %v", i, seen[i-1], seen[i])
		}
	}
	assert.LessOrEqual(t, tr.Value(), 100.0)
}
