package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	objects.Repository

	mu    sync.Mutex
	byFP  map[string]*models.StoredObject
	lists int32
	err   error
}

func newMemObjects() *memObjects {
	return &memObjects{byFP: map[string]*models.StoredObject{}}
}

func (m *memObjects) InsertIfAbsent(ctx context.Context, o *models.StoredObject) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.byFP[o.Fingerprint]; ok {
		return false, nil
	}
	cp := *o
	m.byFP[o.Fingerprint] = &cp
	return true, nil
}

func (m *memObjects) GetByFingerprint(ctx context.Context, fp string) (*models.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byFP[fp]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memObjects) ListByFingerprints(ctx context.Context, fps []string) ([]*models.StoredObject, error) {
	atomic.AddInt32(&m.lists, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.StoredObject
	for _, fp := range fps {
		if o, ok := m.byFP[fp]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestLookupBatch_SingleQuery(t *testing.T) {
	repo := newMemObjects()
	repo.byFP["aa"] = &models.StoredObject{ID: "o1", Fingerprint: "aa"}
	repo.byFP["bb"] = &models.StoredObject{ID: "o2", Fingerprint: "bb"}
	x := NewIndex(repo, logging.NewNopLogger())

	fps := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		fps = append(fps, []string{"aa", "bb", "cc", "AA", ""}[i%5])
	}
	got, err := x.LookupBatch(context.Background(), fps)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "o1", got["aa"].ID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.lists))

	empty, err := x.LookupBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.lists))
}

func TestRegister_FirstWins(t *testing.T) {
	repo := newMemObjects()
	x := NewIndex(repo, logging.NewNopLogger())

	const n = 8
	var (
		wg       sync.WaitGroup
		winners  int32
		conflict int32
		ids      = make([]string, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := x.Register(context.Background(), &models.StoredObject{Fingerprint: "ff", StorageKey: "k"})
			if err != nil && !errors.Is(err, common.ErrDedupConflict) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err != nil {
				atomic.AddInt32(&conflict, 1)
			} else {
				atomic.AddInt32(&winners, 1)
			}
			ids[i] = stored.ID
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners)
	assert.EqualValues(t, n-1, conflict)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestRegister_Errors(t *testing.T) {
	repo := newMemObjects()
	repo.err = errors.New("db down")
	x := NewIndex(repo, logging.NewNopLogger())

	_, err := x.Register(context.Background(), &models.StoredObject{Fingerprint: "aa"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrDedupConflict))
}

func TestGroups(t *testing.T) {
	files := []*models.TaskFile{
		{ID: "c", Index: 2, Fingerprint: "x"},
		{ID: "a", Index: 0, Fingerprint: "x"},
		{ID: "b", Index: 1, Fingerprint: ""},
		{ID: "d", Index: 3, Fingerprint: "y"},
		{ID: "e", Index: 4, Fingerprint: ""},
	}
	leaders, followers := Groups(files)

	ids := func(fs []*models.TaskFile) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "d", "e"}, ids(leaders))
	assert.Equal(t, []string{"c"}, ids(followers))
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"aa", "bb"}, Unique([]string{"BB", "aa", "", " aa ", "bb"}))
}
