// Package common defines shared constants and sentinel errors used across
// client and server layers. Callers should use errors.Is to match these values.
package common

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal        = errors.New("internal error")
	ErrorUnauthorized    = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTaskCancelled     = errors.New("task cancelled")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Upload failure taxonomy.
	ErrValidation          = errors.New("validation error")
	ErrTransientTransfer   = errors.New("transient transfer error")
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")
	ErrQuotaOrPermission   = errors.New("quota or permission error")
	ErrDedupConflict       = errors.New("dedup conflict")
	ErrPartialTaskFailure  = errors.New("partial task failure")
)

// ValidationError describes a rejected manifest or request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Error kinds persisted next to failed files.
const (
	KindValidation          = "validation"
	KindTransient           = "transient"
	KindFingerprintMismatch = "fingerprint_mismatch"
	KindQuotaOrPermission   = "quota_or_permission"
	KindDedupConflict       = "dedup_conflict"
	KindPartialTaskFailure  = "partial_task_failure"
	KindCancelled           = "cancelled"
	KindInternal            = "internal"
)

// ErrorKind classifies err into one of the Kind* constants.
// Timeouts count as transient.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrFingerprintMismatch):
		return KindFingerprintMismatch
	case errors.Is(err, ErrQuotaOrPermission):
		return KindQuotaOrPermission
	case errors.Is(err, ErrDedupConflict):
		return KindDedupConflict
	case errors.Is(err, ErrPartialTaskFailure):
		return KindPartialTaskFailure
	case errors.Is(err, ErrTaskCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrTransientTransfer), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindInternal
	}
}

// IsRetriable reports whether err may succeed on another attempt.
func IsRetriable(err error) bool {
	return ErrorKind(err) == KindTransient
}
