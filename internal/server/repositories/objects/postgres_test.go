package objects

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock, db
}

func TestInsertIfAbsent(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	now := time.Now()
	obj := &models.StoredObject{ID: "o1", Fingerprint: "fp", StorageKey: "k", StorageURL: "u", Size: 10, CreatedAt: now}
	q := `(?s)INSERT INTO stored_objects .*ON CONFLICT \(fingerprint\) DO NOTHING`

	mock.ExpectExec(q).WithArgs("o1", "fp", "k", "u", int64(10), now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("o1", "fp", "k", "u", int64(10), now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q).WillReturnError(errors.New("conn reset"))

	won, err := repo.InsertIfAbsent(context.Background(), obj)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.InsertIfAbsent(context.Background(), obj)
	require.NoError(t, err)
	assert.False(t, won)

	_, err = repo.InsertIfAbsent(context.Background(), obj)
	assert.ErrorContains(t, err, "conn reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByFingerprint(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM stored_objects WHERE fingerprint = \$1`).WithArgs("fp").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fingerprint", "storage_key", "storage_url", "size", "created_at"}).
			AddRow("o1", "fp", "k", "u", int64(10), now))
	mock.ExpectQuery(`FROM stored_objects WHERE fingerprint = \$1`).WithArgs("none").WillReturnError(sql.ErrNoRows)

	o, err := repo.GetByFingerprint(context.Background(), "fp")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	_, err = repo.GetByFingerprint(context.Background(), "none")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListByFingerprints_SingleQuery(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)FROM stored_objects\s+WHERE fingerprint IN \(\$1, \$2, \$3\)`).
		WithArgs("a", "b", "c").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fingerprint", "storage_key", "storage_url", "size", "created_at"}).
			AddRow("o1", "a", "k1", "", int64(1), now).
			AddRow("o3", "c", "k3", "", int64(3), now))

	got, err := repo.ListByFingerprints(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[1].Fingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByFingerprints_EmptyInputSkipsQuery(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	got, err := repo.ListByFingerprints(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnreferenced(t *testing.T) {
	lock := `SELECT id FROM stored_objects WHERE id = \$1 FOR UPDATE`
	count := `SELECT count\(\*\) FROM task_files WHERE object_id = \$1 AND task_id <> \$2`
	del := `DELETE FROM stored_objects WHERE id = \$1`

	t.Run("unreferenced", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectQuery(lock).WithArgs("o1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o1"))
		mock.ExpectQuery(count).WithArgs("o1", "t1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(del).WithArgs("o1").WillReturnResult(sqlmock.NewResult(0, 1))

		gone, err := repo.DeleteUnreferenced(context.Background(), "o1", "t1")
		require.NoError(t, err)
		assert.True(t, gone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("still referenced", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectQuery(lock).WithArgs("o1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o1"))
		mock.ExpectQuery(count).WithArgs("o1", "t1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		gone, err := repo.DeleteUnreferenced(context.Background(), "o1", "t1")
		require.NoError(t, err)
		assert.False(t, gone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already gone", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectQuery(lock).WithArgs("o1").WillReturnError(sql.ErrNoRows)

		gone, err := repo.DeleteUnreferenced(context.Background(), "o1", "t1")
		require.NoError(t, err)
		assert.False(t, gone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock error", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectQuery(lock).WithArgs("o1").WillReturnError(errors.New("deadlock detected"))

		_, err := repo.DeleteUnreferenced(context.Background(), "o1", "t1")
		assert.Error(t, err)
	})
}
