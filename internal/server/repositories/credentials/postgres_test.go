package credentials

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mkorchagin/praylock/internal/common"
	"github.com/mkorchagin/praylock/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+credentials\b.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*$`

	mock.ExpectExec(q).
		WithArgs("e1", []byte{1}, []byte{2}, 2, []byte(nil)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Credential{
		EntityID: "e1", Hash: []byte{1}, Salt: []byte{2}, KDFVersion: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+entity_id,\s*hash,\s*salt,\s*kdf_version,\s*recovery_ciphertext,\s*version\s+FROM\s+credentials\b`

	mock.ExpectQuery(q).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+entity_id,\s*hash,\s*salt,\s*kdf_version,\s*recovery_ciphertext,\s*version\s+FROM\s+credentials\b`

	rows := sqlmock.NewRows([]string{"entity_id", "hash", "salt", "kdf_version", "recovery_ciphertext", "version"}).
		AddRow("e1", []byte{1}, []byte{2}, 2, []byte{3}, int64(4))

	mock.ExpectQuery(q).WithArgs("e1").WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.KDFVersion != 2 || got.Version != 4 || got.RecoveryCiphertext == nil {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestReplace_VersionConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*UPDATE\s+credentials\s+SET\b.*WHERE\s+entity_id\s*=\s*\$5\s+AND\s+version\s*=\s*\$6\s*$`

	mock.ExpectExec(q).
		WithArgs([]byte{1}, []byte{2}, 2, []byte(nil), "e1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Replace(context.Background(), &models.Credential{
		EntityID: "e1", Hash: []byte{1}, Salt: []byte{2}, KDFVersion: 2, Version: 7,
	})
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
}

func TestReplace_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*UPDATE\s+credentials\s+SET\b.*version\s*=\s*version\s*\+\s*1\b`

	mock.ExpectExec(q).
		WithArgs([]byte{1}, []byte{2}, 2, []byte{9}, "e1", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Replace(context.Background(), &models.Credential{
		EntityID: "e1", Hash: []byte{1}, Salt: []byte{2}, KDFVersion: 2,
		RecoveryCiphertext: []byte{9}, Version: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
