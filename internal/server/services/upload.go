package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/dmitrijs2005/gophupload/internal/netx"
	"github.com/dmitrijs2005/gophupload/internal/server/dedup"
	"github.com/dmitrijs2005/gophupload/internal/server/filestate"
	"github.com/dmitrijs2005/gophupload/internal/server/manifest"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/notify"
	"github.com/dmitrijs2005/gophupload/internal/server/objectstore"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/taskfiles"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/tasks"
	"github.com/dmitrijs2005/gophupload/internal/server/source"
	"github.com/dmitrijs2005/gophupload/internal/server/transfer"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var withTx = dbx.WithTx

// CancelPolicy decides what happens to stored objects of a cancelled task.
type CancelPolicy string

const (
	// CancelRetain leaves completed objects for external garbage collection.
	CancelRetain CancelPolicy = "retain"
	// CancelPurge deletes objects no other task references.
	CancelPurge CancelPolicy = "purge"
)

// UploadOptions tunes the coordinator.
type UploadOptions struct {
	MaxConcurrentFiles int
	Retry              filestate.RetryPolicy
	TaskRetryBudget    int
	CancelPolicy       CancelPolicy
	PublicBaseURL      string
	DefaultLinkTTL     time.Duration
}

// Transferer moves one file to the store and releases abandoned sessions.
type Transferer interface {
	Transfer(ctx context.Context, req *transfer.Request) (*transfer.Result, error)
	Abort(ctx context.Context, fileID string, state *models.ChunkState)
}

// Fetcher reads an object back through a presigned URL.
type Fetcher interface {
	Download(ctx context.Context, url string, dst io.Writer) (int64, error)
}

// UploadDeps are the collaborators of an UploadService. Sink and Fetcher
// are optional.
type UploadDeps struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Codec    *manifest.Codec
	Executor Transferer
	Store    objectstore.Store
	Source   source.Source
	Sink     notify.Sink
	Fetcher  Fetcher
	Logger   logging.Logger
}

// UploadService owns upload tasks end to end: ingestion, dedup, fan-out of
// transfers, aggregation and finalization.
//
// Task aggregates are only written inside mutateTask, which serializes on a
// per-task lock. The lock is never held across object store calls.
type UploadService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	codec    *manifest.Codec
	index    *dedup.Index
	executor Transferer
	store    objectstore.Store
	source   source.Source
	sink     notify.Sink
	fetch    Fetcher
	opts     UploadOptions
	logger   logging.Logger
	now      func() time.Time

	locks taskLocks

	mu      sync.Mutex
	running map[string]*taskRun
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

func NewUploadService(deps UploadDeps, opts UploadOptions) *UploadService {
	if opts.MaxConcurrentFiles < 1 {
		opts.MaxConcurrentFiles = 1
	}
	if opts.CancelPolicy == "" {
		opts.CancelPolicy = CancelRetain
	}
	if opts.DefaultLinkTTL <= 0 {
		opts.DefaultLinkTTL = DefaultLinkTTL
	}
	sink := deps.Sink
	if sink == nil {
		sink = notify.NopSink{}
	}
	fetch := deps.Fetcher
	if fetch == nil {
		fetch = netx.NewDownloader(nil, 0)
	}
	logger := deps.Logger.With("module", "upload")

	ctx, stop := context.WithCancel(context.Background())
	return &UploadService{
		db:       deps.DB,
		repos:    deps.Repos,
		codec:    deps.Codec,
		index:    dedup.NewIndex(deps.Repos.Objects(deps.DB), logger),
		executor: deps.Executor,
		store:    deps.Store,
		source:   deps.Source,
		sink:     sink,
		fetch:    fetch,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[string]*taskRun),
		baseCtx:  ctx,
		stop:     stop,
	}
}

// CreateTask validates raw, resolves the target folders and stores the task
// with all its files in one transaction. The task starts pending; transfers
// begin with Start.
func (s *UploadService) CreateTask(ctx context.Context, userID string, raw []byte) (*models.UploadTask, error) {
	m, err := s.codec.Decode(raw)
	if err != nil {
		return nil, err
	}

	// Resolution is idempotent, so it runs outside the task transaction.
	folderRepo := s.repos.Folders(s.db)
	folderIDs := make(map[string]string)
	for _, p := range m.FolderPaths() {
		id, err := folderRepo.ResolveOrCreatePath(ctx, m.DriveID, p)
		if err != nil {
			return nil, fmt.Errorf("resolve folder %q: %w", p, err)
		}
		folderIDs[p] = id
	}

	normalized, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	now := s.now()
	task := &models.UploadTask{
		ID:             uuid.NewString(),
		UserID:         userID,
		DriveID:        m.DriveID,
		Name:           m.TaskName,
		Status:         models.TaskPending,
		Priority:       m.Priority,
		TotalFiles:     m.TotalFiles,
		TotalSize:      m.TotalSize,
		UploadManifest: normalized,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	files := make([]*models.TaskFile, 0, len(m.Files))
	for _, e := range m.Files {
		files = append(files, &models.TaskFile{
			ID:               uuid.NewString(),
			TaskID:           task.ID,
			Index:            e.Index,
			FolderID:         folderIDs[e.TargetFolderPath],
			LocalPath:        e.LocalPath,
			TargetFolderPath: e.TargetFolderPath,
			FileName:         e.FileName,
			Size:             e.FileSize,
			Fingerprint:      e.Fingerprint,
			MimeType:         e.MimeType,
			Status:           models.FilePending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	err = withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Tasks(tx).Create(ctx, task); err != nil {
			return err
		}
		return s.repos.TaskFiles(tx).CreateBatch(ctx, files)
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.Info(ctx, "task created", "task_id", task.ID, "user_id", userID,
		"files", task.TotalFiles, "size", humanize.Bytes(uint64(task.TotalSize)))
	s.publishTask(ctx, notify.TaskStatus, task)
	return task, nil
}

type txRepos struct {
	tasks tasks.Repository
	files taskfiles.Repository
}

// mutateTask runs fn on a fresh copy of the task inside a transaction while
// holding the task lock, and saves the task when fn reports a change.
func (s *UploadService) mutateTask(ctx context.Context, taskID string, fn func(ctx context.Context, r txRepos, task *models.UploadTask) (bool, error)) (*models.UploadTask, error) {
	unlock := s.locks.lock(taskID)
	defer unlock()

	var out *models.UploadTask
	err := withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		r := txRepos{tasks: s.repos.Tasks(tx), files: s.repos.TaskFiles(tx)}
		task, err := r.tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		changed, err := fn(ctx, r, task)
		if err != nil {
			return err
		}
		if changed {
			task.UpdatedAt = s.now()
			if err := r.tasks.Update(ctx, task); err != nil {
				return err
			}
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// clampCounters keeps aggregates within their totals.
func clampCounters(t *models.UploadTask) {
	if t.UploadedFiles > t.TotalFiles {
		t.UploadedFiles = t.TotalFiles
	}
	if t.UploadedSize > t.TotalSize {
		t.UploadedSize = t.TotalSize
	}
}

func (s *UploadService) publishTask(ctx context.Context, typ notify.EventType, t *models.UploadTask) {
	s.sink.Publish(ctx, notify.Event{
		Type:          typ,
		TaskID:        t.ID,
		UserID:        t.UserID,
		Status:        string(t.Status),
		Progress:      t.ProgressPercent(),
		UploadedFiles: t.UploadedFiles,
		TotalFiles:    t.TotalFiles,
		Error:         t.ErrorMessage,
		Timestamp:     s.now(),
	})
}

func (s *UploadService) publishFile(ctx context.Context, t *models.UploadTask, f *models.TaskFile) {
	s.sink.Publish(ctx, notify.Event{
		Type:      notify.FileStatus,
		TaskID:    t.ID,
		FileID:    f.ID,
		UserID:    t.UserID,
		Status:    string(f.Status),
		Progress:  f.Progress,
		Error:     f.ErrorMessage,
		Timestamp: s.now(),
	})
}

// taskLocks hands out one mutex per task id and forgets it when unused.
type taskLocks struct {
	mu sync.Mutex
	m  map[string]*taskLock
}

type taskLock struct {
	sync.Mutex
	refs int
}

func (l *taskLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*taskLock)
	}
	tl, ok := l.m[id]
	if !ok {
		tl = &taskLock{}
		l.m[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Lock()
	return func() {
		tl.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
