// Package transfer moves one file's bytes to the object store, either as a
// single put or as a resumable multipart session.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/fingerprint"
	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/dmitrijs2005/gophupload/internal/server/chunkplan"
	"github.com/dmitrijs2005/gophupload/internal/server/filestate"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/objectstore"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Config bounds one executor.
type Config struct {
	ChunkThreshold    int64
	ChunkSize         int64
	MaxInFlightChunks int
	OpTimeout         time.Duration
}

// Request describes one transfer attempt. Transfer keeps File.Chunk in sync
// with the persisted session so a retry with the same Request resumes it.
type Request struct {
	File       *models.TaskFile
	Source     io.ReaderAt
	Size       int64
	StorageKey string
	Progress   func(float64)
}

// Result is what the store holds after a successful transfer.
type Result struct {
	StorageKey  string
	ETag        string
	Fingerprint string
	Size        int64
	Chunked     bool
}

type Executor struct {
	store   objectstore.Store
	journal Journal
	hasher  *fingerprint.Hasher
	cfg     Config
	logger  logging.Logger
}

func NewExecutor(store objectstore.Store, journal Journal, hasher *fingerprint.Hasher, cfg Config, logger logging.Logger) *Executor {
	if cfg.MaxInFlightChunks < 1 {
		cfg.MaxInFlightChunks = 1
	}
	return &Executor{store: store, journal: journal, hasher: hasher, cfg: cfg, logger: logger.With("module", "transfer")}
}

// Transfer uploads req.Source. The declared size and fingerprint are checked
// against the bytes read; a disagreement is terminal.
func (e *Executor) Transfer(ctx context.Context, req *Request) (*Result, error) {
	f := req.File
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	if req.Size != f.Size {
		return nil, fmt.Errorf("file %s: source has %d bytes, declared %d: %w", f.ID, req.Size, f.Size, common.ErrFingerprintMismatch)
	}

	fp, n, err := e.hasher.SumReader(io.NewSectionReader(req.Source, 0, req.Size))
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", f.ID, err)
	}
	if n != req.Size {
		return nil, fmt.Errorf("file %s: read %d bytes, expected %d: %w", f.ID, n, req.Size, common.ErrFingerprintMismatch)
	}
	if declared := strings.ToLower(f.Fingerprint); declared != "" && declared != fp {
		return nil, fmt.Errorf("file %s: declared %s, computed %s: %w", f.ID, declared, fp, common.ErrFingerprintMismatch)
	}

	layout, err := chunkplan.Plan(req.Size, e.cfg.ChunkThreshold, e.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	tracker := filestate.NewTracker(-1, req.Progress)
	if layout == nil {
		return e.single(ctx, req, fp, tracker)
	}
	return e.chunked(ctx, req, fp, layout, tracker)
}

func (e *Executor) single(ctx context.Context, req *Request, fp string, tracker *filestate.Tracker) (*Result, error) {
	f := req.File
	tracker.Report(0)

	// A put already started is allowed to finish after cancellation.
	opCtx, cancel := e.opContext(context.WithoutCancel(ctx))
	defer cancel()

	etag, err := e.store.Put(opCtx, req.StorageKey, io.NewSectionReader(req.Source, 0, req.Size), req.Size, f.MimeType)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", f.ID, err)
	}
	if e.hasher.Algorithm() == fingerprint.MD5 && objectstore.PlainMD5ETag(etag) && etag != fp {
		if derr := e.store.Delete(opCtx, req.StorageKey); derr != nil {
			e.logger.Warn(ctx, "delete mismatched object", "key", req.StorageKey, "error", derr)
		}
		return nil, fmt.Errorf("file %s: store etag %s, computed %s: %w", f.ID, etag, fp, common.ErrFingerprintMismatch)
	}

	tracker.Report(100)
	e.logger.Debug(ctx, "put done", "file_id", f.ID, "key", req.StorageKey, "size", humanize.Bytes(uint64(req.Size)))
	return &Result{StorageKey: req.StorageKey, ETag: etag, Fingerprint: fp, Size: req.Size}, nil
}

func (e *Executor) chunked(ctx context.Context, req *Request, fp string, layout *chunkplan.Layout, tracker *filestate.Tracker) (*Result, error) {
	f := req.File
	total := layout.Count()

	state, err := e.attach(ctx, req, layout)
	if err != nil {
		return nil, err
	}
	key := state.StorageKey

	tracker.Report(confirmedPercent(len(state.Tokens), total))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(e.cfg.MaxInFlightChunks))

	for _, idx := range state.Missing() {
		if gctx.Err() != nil {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		if gctx.Err() != nil {
			sem.Release(1)
			break
		}

		r := layout.Chunks[idx]
		g.Go(func() error {
			defer sem.Release(1)

			// In-flight chunks finish even if the task is cancelled.
			opCtx, cancel := e.opContext(context.WithoutCancel(gctx))
			defer cancel()

			token, err := e.store.UploadPart(opCtx, key, state.SessionID, r.Index, io.NewSectionReader(req.Source, r.Offset, r.Size), r.Size)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", r.Index, err)
			}
			if err := e.journal.Confirm(opCtx, f.ID, state.SessionID, r.Index, token); err != nil {
				return fmt.Errorf("confirm chunk %d: %w", r.Index, err)
			}

			mu.Lock()
			state.Confirm(r.Index, token)
			done := len(state.Tokens)
			mu.Unlock()

			tracker.Report(confirmedPercent(done, total))
			return nil
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		return nil, e.interrupted(ctx, req, state)
	}
	if err != nil {
		return nil, e.failed(ctx, req, state, err)
	}

	tokens, ok := state.OrderedTokens()
	if !ok {
		return nil, fmt.Errorf("file %s: session %s incomplete: %v missing", f.ID, state.SessionID, state.Missing())
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	etag, err := e.store.CompleteMultipart(opCtx, key, state.SessionID, tokens)
	if err != nil {
		return nil, e.failed(ctx, req, state, err)
	}

	if err := e.journal.EndSession(opCtx, f.ID); err != nil {
		e.logger.Warn(ctx, "end session", "file_id", f.ID, "error", err)
	}
	f.Chunk = nil

	e.logger.Debug(ctx, "multipart done", "file_id", f.ID, "key", key, "chunks", total, "size", humanize.Bytes(uint64(req.Size)))
	return &Result{StorageKey: key, ETag: etag, Fingerprint: fp, Size: req.Size, Chunked: true}, nil
}

// attach resumes the persisted session when its layout still matches, or
// opens a new one.
func (e *Executor) attach(ctx context.Context, req *Request, layout *chunkplan.Layout) (*models.ChunkState, error) {
	f := req.File

	if prev := f.Chunk; prev != nil {
		if prev.SessionID != "" && prev.StorageKey != "" && prev.ChunkSize == layout.ChunkSize && prev.TotalChunks == layout.Count() {
			tokens, err := e.journal.Replay(ctx, f.ID, prev.SessionID)
			if err != nil {
				return nil, fmt.Errorf("file %s: replay session %s: %w", f.ID, prev.SessionID, err)
			}
			state := prev.Header()
			for idx, tok := range tokens {
				if idx >= 0 && idx < state.TotalChunks && tok != "" {
					state.Confirm(idx, tok)
				}
			}
			e.logger.Info(ctx, "resuming session", "file_id", f.ID, "session", state.SessionID,
				"confirmed", len(state.Tokens), "total", state.TotalChunks)
			return state, nil
		}
		e.logger.Warn(ctx, "discarding incompatible session", "file_id", f.ID, "session", prev.SessionID)
		e.Abort(ctx, f.ID, prev)
		f.Chunk = nil
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	sessionID, err := e.store.InitiateMultipart(opCtx, req.StorageKey, f.MimeType)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", f.ID, err)
	}

	state := &models.ChunkState{
		SessionID:   sessionID,
		StorageKey:  req.StorageKey,
		ChunkSize:   layout.ChunkSize,
		TotalChunks: layout.Count(),
	}
	if err := e.journal.BeginSession(opCtx, f.ID, state); err != nil {
		if aerr := e.store.AbortMultipart(opCtx, req.StorageKey, sessionID); aerr != nil {
			e.logger.Warn(ctx, "abort unrecorded session", "file_id", f.ID, "error", aerr)
		}
		return nil, fmt.Errorf("file %s: %w", f.ID, err)
	}
	f.Chunk = state.Header()
	return state, nil
}

// interrupted handles a stopped run. Task cancellation aborts the session at
// the store; any other stop keeps it for resume.
func (e *Executor) interrupted(ctx context.Context, req *Request, state *models.ChunkState) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, common.ErrTaskCancelled) {
		e.Abort(context.WithoutCancel(ctx), req.File.ID, state)
		req.File.Chunk = nil
	}
	return fmt.Errorf("file %s: %w", req.File.ID, cause)
}

// failed keeps the session for transient errors so the next attempt resumes
// it; anything else releases it.
func (e *Executor) failed(ctx context.Context, req *Request, state *models.ChunkState, err error) error {
	switch {
	case errors.Is(err, objectstore.ErrSessionNotFound):
		if jerr := e.journal.EndSession(context.WithoutCancel(ctx), req.File.ID); jerr != nil {
			e.logger.Warn(ctx, "end lost session", "file_id", req.File.ID, "error", jerr)
		}
		req.File.Chunk = nil
	case !common.IsRetriable(err):
		e.Abort(context.WithoutCancel(ctx), req.File.ID, state)
		req.File.Chunk = nil
	}
	return fmt.Errorf("file %s: %w", req.File.ID, err)
}

// Abort releases a multipart session at the store and clears its journal.
// Errors are logged; an abandoned session is reclaimed by bucket lifecycle.
func (e *Executor) Abort(ctx context.Context, fileID string, state *models.ChunkState) {
	if state == nil || state.SessionID == "" {
		return
	}
	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	if err := e.store.AbortMultipart(opCtx, state.StorageKey, state.SessionID); err != nil {
		e.logger.Warn(ctx, "abort session", "file_id", fileID, "session", state.SessionID, "error", err)
	}
	if err := e.journal.EndSession(opCtx, fileID); err != nil {
		e.logger.Warn(ctx, "end session", "file_id", fileID, "error", err)
	}
}

func (e *Executor) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.OpTimeout)
}

func confirmedPercent(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}
