// Package objectstore is the narrow capability interface the engine uses to
// talk to S3-compatible storage, with AWS SDK and MinIO implementations.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/google/uuid"
)

// Store moves bytes to object storage. Part indices are zero-based.
type Store interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (etag string, err error)
	InitiateMultipart(ctx context.Context, key, contentType string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, index int, body io.ReadSeeker, size int64) (token string, err error)
	CompleteMultipart(ctx context.Context, key, uploadID string, tokens []string) (etag string, err error)
	AbortMultipart(ctx context.Context, key, uploadID string) error
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ErrSessionNotFound means the store no longer knows the multipart upload.
// It is also transient: a retry starts a new session.
var ErrSessionNotFound = errors.New("multipart session not found")

// NewKey builds a storage key of the form uploads/YYYY/MM/DD/<uuid><ext>.
func NewKey(now time.Time, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("uploads/%04d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), uuid.NewString(), ext)
}

// ArchiveKey builds the key of a task archive, temp/archives/<task>-<uuid>.zip.
// Objects under temp/ are expected to expire through a bucket lifecycle rule.
func ArchiveKey(taskID string) string {
	return fmt.Sprintf("temp/archives/%s-%s.zip", taskID, uuid.NewString())
}

// PublicURL joins the public base URL and a key.
func PublicURL(base, key string) string {
	if base == "" {
		return key
	}
	return strings.TrimRight(base, "/") + "/" + key
}

// PlainMD5ETag reports whether etag is a bare MD5 hex digest, as returned by
// single-part uploads without KMS encryption.
func PlainMD5ETag(etag string) bool {
	if len(etag) != 32 {
		return false
	}
	for _, c := range etag {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

var permissionCodes = map[string]struct{}{
	"AccessDenied":          {},
	"AllAccessDisabled":     {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"AccountProblem":        {},
	"NoSuchBucket":          {},
}

var quotaCodes = map[string]struct{}{
	"QuotaExceeded":                  {},
	"XMinioStorageFull":              {},
	"XMinioAdminBucketQuotaExceeded": {},
	"EntityTooLarge":                 {},
}

// classify wraps a backend error into the upload taxonomy using the HTTP
// status and provider error code. status 0 means no response was received.
func classify(op, key string, status int, code string, err error) error {
	if err == nil {
		return nil
	}

	var sentinel error
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s %q: %w", op, key, err)
	case code == "NoSuchUpload":
		return fmt.Errorf("%s %q: %w: %w: %w", op, key, ErrSessionNotFound, common.ErrTransientTransfer, err)
	case has(permissionCodes, code), status == 401, status == 403:
		sentinel = common.ErrQuotaOrPermission
	case has(quotaCodes, code), status == 507:
		sentinel = common.ErrQuotaOrPermission
	case errors.Is(err, context.DeadlineExceeded):
		sentinel = common.ErrTransientTransfer
	case status == 0, status == 408, status == 429, status >= 500:
		sentinel = common.ErrTransientTransfer
	default:
		return fmt.Errorf("%s %q: %w", op, key, err)
	}
	return fmt.Errorf("%s %q: %w: %w", op, key, sentinel, err)
}

func has(set map[string]struct{}, code string) bool {
	if code == "" {
		return false
	}
	_, ok := set[code]
	return ok
}
