package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_UnwrapsToSentinel(t *testing.T) {
	err := NewValidationError("files[2].local_path", "must not be empty")

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "validation error: files[2].local_path: must not be empty", err.Error())

	var ve *ValidationError
	assert.True(t, errors.As(fmt.Errorf("create: %w", err), &ve))
	assert.Equal(t, "files[2].local_path", ve.Field)
}

func TestValidationError_NoField(t *testing.T) {
	err := &ValidationError{Reason: "empty manifest"}
	assert.Equal(t, "validation error: empty manifest", err.Error())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", NewValidationError("x", "bad"), KindValidation},
		{"transient wrapped", fmt.Errorf("put: %w", ErrTransientTransfer), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"mismatch", fmt.Errorf("x: %w", ErrFingerprintMismatch), KindFingerprintMismatch},
		{"quota", ErrQuotaOrPermission, KindQuotaOrPermission},
		{"dedup", ErrDedupConflict, KindDedupConflict},
		{"partial", ErrPartialTaskFailure, KindPartialTaskFailure},
		{"cancelled", context.Canceled, KindCancelled},
		{"task cancelled", ErrTaskCancelled, KindCancelled},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ErrorKind(tc.err))
		})
	}
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, IsRetriable(fmt.Errorf("%w: 503", ErrTransientTransfer)))
	assert.False(t, IsRetriable(ErrQuotaOrPermission))
	assert.False(t, IsRetriable(ErrFingerprintMismatch))
	assert.False(t, IsRetriable(nil))
}
