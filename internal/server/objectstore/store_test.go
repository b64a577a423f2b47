package objectstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/stretchr/testify/assert"
)

func TestNewKey_Format(t *testing.T) {
	now := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	key := NewKey(now, "Report.PDF")

	re := regexp.MustCompile(`^uploads/2024/03/07/[0-9a-f-]{36}\.pdf$`)
	if !re.MatchString(key) {
		t.Fatalf("unexpected key %q", key)
	}
	assert.NotEqual(t, key, NewKey(now, "Report.PDF"))

	noExt := NewKey(now, "Makefile")
	assert.Regexp(t, `^uploads/2024/03/07/[0-9a-f-]{36}$`, noExt)
}

func TestArchiveKey(t *testing.T) {
	key := ArchiveKey("task-1")
	assert.Regexp(t, `^temp/archives/task-1-[0-9a-f-]{36}\.zip$`, key)
	assert.NotEqual(t, key, ArchiveKey("task-1"))
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/uploads/a.txt", PublicURL("https://cdn.example.com/", "uploads/a.txt"))
	assert.Equal(t, "uploads/a.txt", PublicURL("", "uploads/a.txt"))
}

func TestPlainMD5ETag(t *testing.T) {
	assert.True(t, PlainMD5ETag("d41d8cd98f00b204e9800998ecf8427e"))
	assert.False(t, PlainMD5ETag("d41d8cd98f00b204e9800998ecf8427e-3"))
	assert.False(t, PlainMD5ETag("D41D8CD98F00B204E9800998ECF8427E"))
	assert.False(t, PlainMD5ETag(""))
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name   string
		status int
		code   string
		err    error
		want   error
		retry  bool
	}{
		{"access denied code", 0, "AccessDenied", base, common.ErrQuotaOrPermission, false},
		{"forbidden status", 403, "", base, common.ErrQuotaOrPermission, false},
		{"quota", 0, "QuotaExceeded", base, common.ErrQuotaOrPermission, false},
		{"insufficient storage", 507, "", base, common.ErrQuotaOrPermission, false},
		{"server error", 503, "SlowDown", base, common.ErrTransientTransfer, true},
		{"throttled", 429, "", base, common.ErrTransientTransfer, true},
		{"no response", 0, "", base, common.ErrTransientTransfer, true},
		{"deadline", 0, "", context.DeadlineExceeded, common.ErrTransientTransfer, true},
		{"session gone", 404, "NoSuchUpload", base, ErrSessionNotFound, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", "k", tt.status, tt.code, tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("want %v in chain, got %v", tt.want, got)
			}
			assert.ErrorIs(t, got, tt.err)
			assert.Equal(t, tt.retry, common.IsRetriable(got))
		})
	}
}

func TestClassify_TerminalAndCancelled(t *testing.T) {
	assert.NoError(t, classify("op", "k", 0, "", nil))

	bad := classify("op", "k", 400, "InvalidPart", errors.New("bad part"))
	assert.False(t, common.IsRetriable(bad))
	assert.False(t, errors.Is(bad, common.ErrQuotaOrPermission))

	cancelled := classify("op", "k", 0, "", context.Canceled)
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.False(t, errors.Is(cancelled, common.ErrTransientTransfer))
}
