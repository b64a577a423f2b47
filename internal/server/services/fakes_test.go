package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/dbx"
	"github.com/dmitrijs2005/gophupload/internal/fingerprint"
	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/dmitrijs2005/gophupload/internal/server/filestate"
	"github.com/dmitrijs2005/gophupload/internal/server/manifest"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/objectstore"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/folders"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/objects"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/taskfiles"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/tasks"
	"github.com/dmitrijs2005/gophupload/internal/server/source"
	"github.com/dmitrijs2005/gophupload/internal/server/transfer"
	"github.com/stretchr/testify/require"
)

const testDrive = "6f1c2a8e-3b44-4d7e-9a0b-1d2e3f4a5b6c"

// -------- in-memory database --------

// memDB stores copies of rows so callers never share pointers with it.
type memDB struct {
	mu      sync.Mutex
	tasks   map[string]*models.UploadTask
	files   map[string]*models.TaskFile
	objects map[string]*models.StoredObject
	chunks  map[string]map[int]string
	folders map[string]string

	createBatchErr error
	// listFilesErrs fails that many ListByTask calls.
	listFilesErrs int
}

func newMemDB() *memDB {
	return &memDB{
		tasks:   make(map[string]*models.UploadTask),
		files:   make(map[string]*models.TaskFile),
		objects: make(map[string]*models.StoredObject),
		chunks:  make(map[string]map[int]string),
		folders: make(map[string]string),
	}
}

func copyTask(t *models.UploadTask) *models.UploadTask {
	c := *t
	return &c
}

func copyFile(f *models.TaskFile) *models.TaskFile {
	c := *f
	if f.Chunk != nil {
		c.Chunk = f.Chunk.Header()
	}
	return &c
}

func (m *memDB) task(id string) *models.UploadTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return copyTask(t)
	}
	return nil
}

func (m *memDB) filesOf(taskID string) []*models.TaskFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TaskFile
	for _, f := range m.files {
		if f.TaskID == taskID {
			out = append(out, copyFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *memDB) putTask(t *models.UploadTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = copyTask(t)
}

func (m *memDB) putFile(f *models.TaskFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = copyFile(f)
}

func (m *memDB) putObject(o *models.StoredObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *o
	m.objects[o.ID] = &c
}

type memTasks struct {
	tasks.Repository
	db *memDB
}

func (r *memTasks) Create(ctx context.Context, t *models.UploadTask) error {
	r.db.putTask(t)
	return nil
}

func (r *memTasks) Get(ctx context.Context, id string) (*models.UploadTask, error) {
	if t := r.db.task(id); t != nil {
		return t, nil
	}
	return nil, common.ErrorNotFound
}

func (r *memTasks) ListByUser(ctx context.Context, userID string, status models.TaskStatus, offset, limit int) ([]*models.UploadTask, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.UploadTask
	for _, t := range r.db.tasks {
		if t.UserID == userID && (status == "" || t.Status == status) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTasks) ListActive(ctx context.Context) ([]*models.UploadTask, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.UploadTask
	for _, t := range r.db.tasks {
		if t.Status == models.TaskPending || t.Status == models.TaskUploading {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (r *memTasks) Update(ctx context.Context, t *models.UploadTask) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.tasks[t.ID]; !ok {
		return common.ErrorNotFound
	}
	r.db.tasks[t.ID] = copyTask(t)
	return nil
}

func (r *memTasks) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.tasks[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.db.tasks, id)
	for fid, f := range r.db.files {
		if f.TaskID == id {
			delete(r.db.files, fid)
		}
	}
	return nil
}

type memFiles struct {
	taskfiles.Repository
	db *memDB
}

func (r *memFiles) CreateBatch(ctx context.Context, files []*models.TaskFile) error {
	if r.db.createBatchErr != nil {
		return r.db.createBatchErr
	}
	for _, f := range files {
		r.db.putFile(f)
	}
	return nil
}

func (r *memFiles) Get(ctx context.Context, id string) (*models.TaskFile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if f, ok := r.db.files[id]; ok {
		return copyFile(f), nil
	}
	return nil, common.ErrorNotFound
}

func (r *memFiles) ListByTask(ctx context.Context, taskID string) ([]*models.TaskFile, error) {
	r.db.mu.Lock()
	if r.db.listFilesErrs > 0 {
		r.db.listFilesErrs--
		r.db.mu.Unlock()
		return nil, errBoom{}
	}
	r.db.mu.Unlock()
	return r.db.filesOf(taskID), nil
}

func (r *memFiles) Update(ctx context.Context, f *models.TaskFile) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.files[f.ID]; !ok {
		return common.ErrorNotFound
	}
	r.db.files[f.ID] = copyFile(f)
	return nil
}

func (r *memFiles) MarkDuplicate(ctx context.Context, fileID string, obj *models.StoredObject, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f, ok := r.db.files[fileID]
	if !ok || f.Status != models.FilePending || f.IsDuplicate {
		return false, nil
	}
	if _, ok := r.db.objects[obj.ID]; !ok {
		return false, nil
	}
	f.Status = models.FileSkipped
	f.IsDuplicate = true
	f.DuplicatedFrom = obj.ID
	f.ObjectID = obj.ID
	f.StorageKey = obj.StorageKey
	f.StorageURL = obj.StorageURL
	f.Chunk = nil
	f.CompletedAt = &at
	return true, nil
}

func (r *memFiles) SetChunkInfo(ctx context.Context, fileID string, state *models.ChunkState) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f, ok := r.db.files[fileID]
	if !ok {
		return common.ErrorNotFound
	}
	f.Chunk = nil
	if state != nil {
		f.Chunk = state.Header()
	}
	return nil
}

type memObjects struct {
	objects.Repository
	db *memDB
}

func (r *memObjects) InsertIfAbsent(ctx context.Context, obj *models.StoredObject) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, o := range r.db.objects {
		if o.Fingerprint == obj.Fingerprint {
			return false, nil
		}
	}
	c := *obj
	r.db.objects[obj.ID] = &c
	return true, nil
}

func (r *memObjects) GetByFingerprint(ctx context.Context, fp string) (*models.StoredObject, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, o := range r.db.objects {
		if o.Fingerprint == fp {
			c := *o
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memObjects) ListByFingerprints(ctx context.Context, fps []string) ([]*models.StoredObject, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	want := make(map[string]bool, len(fps))
	for _, fp := range fps {
		want[fp] = true
	}
	var out []*models.StoredObject
	for _, o := range r.db.objects {
		if want[o.Fingerprint] {
			c := *o
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memObjects) DeleteUnreferenced(ctx context.Context, id, excludeTaskID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.objects[id]; !ok {
		return false, nil
	}
	for _, f := range r.db.files {
		if f.ObjectID == id && f.TaskID != excludeTaskID {
			return false, nil
		}
	}
	delete(r.db.objects, id)
	return true, nil
}

type memChunks struct {
	chunks.Repository
	db *memDB
}

func (r *memChunks) Append(ctx context.Context, fileID, sessionID string, index int, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	log, ok := r.db.chunks[fileID]
	if !ok {
		log = make(map[int]string)
		r.db.chunks[fileID] = log
	}
	log[index] = token
	return nil
}

func (r *memChunks) Replay(ctx context.Context, fileID, sessionID string) (map[int]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make(map[int]string)
	for k, v := range r.db.chunks[fileID] {
		out[k] = v
	}
	return out, nil
}

func (r *memChunks) Clear(ctx context.Context, fileID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.chunks, fileID)
	return nil
}

type memFolders struct {
	folders.Repository
	db *memDB
}

func (r *memFolders) ResolveOrCreatePath(ctx context.Context, driveID, path string) (string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := driveID + ":" + path
	if id, ok := r.db.folders[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("folder-%d", len(r.db.folders)+1)
	r.db.folders[key] = id
	return id, nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	db *memDB
}

func (m *fakeRepoManager) Tasks(dbx.DBTX) tasks.Repository         { return &memTasks{db: m.db} }
func (m *fakeRepoManager) TaskFiles(dbx.DBTX) taskfiles.Repository { return &memFiles{db: m.db} }
func (m *fakeRepoManager) Objects(dbx.DBTX) objects.Repository     { return &memObjects{db: m.db} }
func (m *fakeRepoManager) Chunks(dbx.DBTX) chunks.Repository       { return &memChunks{db: m.db} }
func (m *fakeRepoManager) Folders(dbx.DBTX) folders.Repository     { return &memFolders{db: m.db} }

// -------- object store --------

type fakeStore struct {
	objectstore.Store

	mu       sync.Mutex
	parts    map[string][]int
	aborted  []string
	deleted  []string
	complete int
	sessions int
	ttls     []time.Duration
	puts     map[string][]byte

	partHook func(ctx context.Context, idx int) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{parts: make(map[string][]int), puts: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[key] = b
	return "", nil
}

func (s *fakeStore) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	return fmt.Sprintf("s-%d", s.sessions), nil
}

func (s *fakeStore) UploadPart(ctx context.Context, key, uploadID string, index int, body io.ReadSeeker, size int64) (string, error) {
	if s.partHook != nil {
		if err := s.partHook(ctx, index); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[uploadID] = append(s.parts[uploadID], index)
	return fmt.Sprintf("t%d", index), nil
}

func (s *fakeStore) CompleteMultipart(ctx context.Context, key, uploadID string, tokens []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete++
	return "etag-" + uploadID, nil
}

func (s *fakeStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = append(s.aborted, uploadID)
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttls = append(s.ttls, ttl)
	return "https://signed.example/" + key, nil
}

// fakeFetcher serves bodies by URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	urls   []string
}

func (f *fakeFetcher) Download(ctx context.Context, url string, dst io.Writer) (int64, error) {
	f.mu.Lock()
	body, ok := f.bodies[url]
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("download failed: 404 Not Found")
	}
	n, err := dst.Write(body)
	return int64(n), err
}

// -------- source --------

// gatedSource holds every Open until release is closed.
type gatedSource struct {
	source.Source
	opened  chan string
	release chan struct{}
}

func newGatedSource(inner source.Source) *gatedSource {
	return &gatedSource{Source: inner, opened: make(chan string, 16), release: make(chan struct{})}
}

func (g *gatedSource) Open(ctx context.Context, localPath string) (source.ReadAtCloser, int64, error) {
	g.opened <- localPath
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	return g.Source.Open(ctx, localPath)
}

// -------- transferer --------

// fakeTransfer succeeds unless fail maps the local path to an error.
type fakeTransfer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	block bool
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{calls: make(map[string]int), fail: make(map[string]error)}
}

func (f *fakeTransfer) Transfer(ctx context.Context, req *transfer.Request) (*transfer.Result, error) {
	f.mu.Lock()
	f.calls[req.File.LocalPath]++
	err := f.fail[req.File.LocalPath]
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, err
	}
	if req.Progress != nil {
		req.Progress(50)
	}
	fp := req.File.Fingerprint
	if fp == "" {
		fp = "fp-" + strings.ReplaceAll(req.File.LocalPath, "/", "-")
	}
	return &transfer.Result{StorageKey: req.StorageKey, Fingerprint: fp, Size: req.Size}, nil
}

func (f *fakeTransfer) Abort(ctx context.Context, fileID string, state *models.ChunkState) {}

func (f *fakeTransfer) callsFor(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeTransfer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// -------- harness --------

type harness struct {
	db     *memDB
	repos  *fakeRepoManager
	store  *fakeStore
	source *source.Memory
	svc    *UploadService
}

func stubTx(t *testing.T) {
	t.Helper()
	orig := withTx
	withTx = func(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn dbx.TxFunc) error {
		return fn(ctx, nil)
	}
	t.Cleanup(func() { withTx = orig })
}

func newCodec(t *testing.T) *manifest.Codec {
	t.Helper()
	h, err := fingerprint.New(fingerprint.MD5)
	require.NoError(t, err)
	return manifest.NewCodec(h, 1024, 1000)
}

func fastRetry() filestate.RetryPolicy {
	return filestate.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newHarness(t *testing.T, exec Transferer, opts UploadOptions) *harness {
	t.Helper()
	stubTx(t)

	db := newMemDB()
	h := &harness{
		db:     db,
		repos:  &fakeRepoManager{db: db},
		store:  newFakeStore(),
		source: source.NewMemory(),
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fastRetry()
	}
	h.svc = NewUploadService(UploadDeps{
		Repos:    h.repos,
		Codec:    newCodec(t),
		Executor: exec,
		Store:    h.store,
		Source:   h.source,
		Logger:   logging.NewNopLogger(),
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

type testFile struct {
	path   string
	folder string
	data   []byte
	fp     string
}

// submit adds the files to the source and creates a task listing them.
func (h *harness) submit(t *testing.T, user string, files ...testFile) *models.UploadTask {
	t.Helper()
	var entries []string
	for i, f := range files {
		h.source.Add(f.path, f.data)
		folder := f.folder
		if folder == "" {
			folder = "/"
		}
		name := f.path[strings.LastIndex(f.path, "/")+1:]
		fp := ""
		if f.fp != "" {
			fp = fmt.Sprintf(`, "fingerprint": %q`, f.fp)
		}
		entries = append(entries, fmt.Sprintf(
			`{"index": %d, "local_path": %q, "target_folder_path": %q, "file_name": %q, "file_size": %d%s}`,
			i, f.path, folder, name, len(f.data), fp))
	}
	raw := fmt.Sprintf(`{"task_name": "t", "drive_id": %q, "files": [%s]}`, testDrive, strings.Join(entries, ","))

	task, err := h.svc.CreateTask(context.Background(), user, []byte(raw))
	require.NoError(t, err)
	return task
}

func md5hex(b []byte) string {
	h, _ := fingerprint.New(fingerprint.MD5)
	return h.Sum(b)
}
