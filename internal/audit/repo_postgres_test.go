package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepo(db), mock
}

var eventCols = []string{"id", "created_at", "actor_email", "actor_role", "method", "path", "status", "ip", "user_agent", "note"}

func TestPostgresRepo_EnsureSchema(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Save(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs("admin@example.com", "ADMIN", "POST", "/api/admin/racers", 201, nil, "curl/8", "Created racer id=42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	saved, err := repo.Save(context.Background(), Event{
		ActorEmail: "admin@example.com",
		ActorRole:  "ADMIN",
		Method:     "POST",
		Path:       "/api/admin/racers",
		Status:     201,
		UserAgent:  "curl/8",
		Note:       "Created racer id=42",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), saved.ID)
	assert.True(t, saved.CreatedAt.Equal(now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("INSERT INTO audit_events").WillReturnError(errors.New("connection refused"))

	_, err := repo.Save(context.Background(), ev("a@x", "POST", "/p", 200))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert event")
}

func TestPostgresRepo_Search(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_events")).
		WithArgs("50%", `%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(11)))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs("50%", `%50\%%`, 5, 5).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow(int64(3), now, "a@x", "ADMIN", "PUT", "/api/admin/races/1", 200, nil, nil, nil).
			AddRow(int64(2), now.Add(-time.Minute), "b@x", "USER", "POST", "/api/admin/racers", 201, "10.0.0.xxx", "ua", "note"))

	p, err := repo.Search(context.Background(), " 50% ", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MinPageSize, p.Size)
	assert.Equal(t, int64(11), p.Total)
	assert.Equal(t, 3, p.TotalPages)
	require.Len(t, p.Items, 2)
	assert.Equal(t, int64(3), p.Items[0].ID)
	assert.Empty(t, p.Items[0].IP)
	assert.Equal(t, "10.0.0.xxx", p.Items[1].IP)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SearchEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery("SELECT id, created_at").WillReturnRows(sqlmock.NewRows(eventCols))

	p, err := repo.Search(context.Background(), "", 0, 25)
	require.NoError(t, err)
	assert.NotNil(t, p.Items)
	assert.Empty(t, p.Items)
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events WHERE id = $1")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(eventCols))

	_, err := repo.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepo_DeleteByMethods(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_events WHERE upper(method) IN ($1,$2)")).
		WithArgs("GET", "HEAD").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	n, err := repo.DeleteByMethods(context.Background(), []string{"get", "HEAD", "GET", " "})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_DeleteExceptMethodsRefusesEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)

	_, err := repo.DeleteExceptMethods(context.Background(), nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_PurgeIsOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Now().AddDate(0, 0, -30)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_events WHERE upper(method) NOT IN ($1,$2,$3,$4)")).
		WithArgs("POST", "PUT", "PATCH", "DELETE").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_events WHERE created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	res, err := repo.Purge(context.Background(), cutoff, MutatingMethods)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{MethodDeleted: 3, ExpiredDeleted: 5}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_PurgeRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM audit_events WHERE created_at").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := repo.Purge(context.Background(), time.Now(), nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ClearAll(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_events")).WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectCommit()

	n, err := repo.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\%b\_c\\d`, escapeLike(`a%b_c\d`))
}
