package ratelimits

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mkorchagin/praylock/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGet_NoRecordMeansOpen(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+entity_id,\s*failure_count,\s*lockout_until\s+FROM\s+rate_limits\b`

	mock.ExpectQuery(q).WithArgs("e1").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "e1")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestIncrementFailure_BelowThreshold(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+rate_limits\b.*ON\s+CONFLICT\s*\(entity_id\)\s+DO\s+UPDATE\b.*RETURNING\s+failure_count,\s*lockout_until\s*$`

	now := time.Now()
	until := now.Add(time.Minute)
	rows := sqlmock.NewRows([]string{"failure_count", "lockout_until"}).AddRow(2, nil)

	mock.ExpectQuery(q).WithArgs("e1", 5, until, now).WillReturnRows(rows)

	rec, err := repo.IncrementFailure(context.Background(), "e1", 5, until, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.FailureCount != 2 || rec.LockoutUntil != nil {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestIncrementFailure_CrossesThreshold(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+rate_limits\b.*RETURNING\s+failure_count,\s*lockout_until\s*$`

	now := time.Now()
	until := now.Add(time.Minute)
	rows := sqlmock.NewRows([]string{"failure_count", "lockout_until"}).AddRow(5, until)

	mock.ExpectQuery(q).WithArgs("e1", 5, until, now).WillReturnRows(rows)

	rec, err := repo.IncrementFailure(context.Background(), "e1", 5, until, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.FailureCount != 5 || rec.LockoutUntil == nil || !rec.LockoutUntil.Equal(until) {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestClear_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*DELETE\s+FROM\s+rate_limits\s+WHERE\s+entity_id\s*=\s*\$1\s*$`

	mock.ExpectExec(q).WithArgs("e1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Clear(context.Background(), "e1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteExpired_ReturnsCount(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*DELETE\s+FROM\s+rate_limits\s+WHERE\s+\(lockout_until\s+IS\s+NOT\s+NULL\s+AND\s+lockout_until\s*<=\s*\$1\)\s+OR\s+updated_at\s*<=\s*\$2\s*$`

	mock.ExpectExec(q).WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 2))

	now := time.Now()
	n, err := repo.DeleteExpired(context.Background(), now, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 deleted, got %d", n)
	}
}
