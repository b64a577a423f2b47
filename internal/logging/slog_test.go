package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	l := slog.New(h)
	return NewSlogLogger(l), &buf
}

func TestSlogLogger_Levels_WriteExpectedOutput(t *testing.T) {
	tests := []struct {
		level string
		log   func(l *SlogLogger, ctx context.Context)
		want  []string
	}{
		{"DEBUG", func(l *SlogLogger, ctx context.Context) { l.Debug(ctx, "chunk confirmed", "index", 2) }, []string{"msg=\"chunk confirmed\"", "index=2"}},
		{"INFO", func(l *SlogLogger, ctx context.Context) { l.Info(ctx, "task started", "files", 12) }, []string{"msg=\"task started\"", "files=12"}},
		{"WARN", func(l *SlogLogger, ctx context.Context) { l.Warn(ctx, "retrying", "attempt", 3) }, []string{"msg=retrying", "attempt=3"}},
		{"ERROR", func(l *SlogLogger, ctx context.Context) { l.Error(ctx, "upload failed", "kind", "transient") }, []string{"msg=\"upload failed\"", "kind=transient"}},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			log, buf := newTestLogger(t)
			tc.log(log, context.Background())

			out := buf.String()
			if !strings.Contains(out, "level="+tc.level) {
				t.Fatalf("expected level=%s in output:\n%s", tc.level, out)
			}
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Fatalf("expected %s in output:\n%s", w, out)
				}
			}
		})
	}
}

func TestSlogLogger_With_AddsAttributes(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log2 := log.With("module", "transfer", "task_id", "t-1")
	log2.Info(ctx, "file done", "file_id", "f-7")

	out := buf.String()
	wantSubs := []string{
		"level=INFO",
		"msg=\"file done\"",
		"module=transfer",
		"task_id=t-1",
		"file_id=f-7",
	}
	for _, s := range wantSubs {
		if !strings.Contains(out, s) {
			t.Fatalf("expected %q in output, got:\n%s", s, out)
		}
	}
}

func TestSlogLogger_ContextDoesNotPanic(t *testing.T) {
	log, _ := newTestLogger(t)

	ctx := context.TODO()
	log.Info(ctx, "ctx-ok")
	log.Debug(ctx, "ctx-ok")
	log.Warn(ctx, "ctx-ok")
	log.Error(ctx, "ctx-ok")
}

func TestNewJSONLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, slog.LevelInfo)

	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "shown", "files", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record must be filtered, got:\n%s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"files":3`) {
		t.Fatalf("expected JSON record, got:\n%s", out)
	}
}

func TestNewNopLogger_Discards(t *testing.T) {
	var l Logger = NewNopLogger()
	l.With("module", "x").Error(context.Background(), "nothing")
}
