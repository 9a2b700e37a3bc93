package devices

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/server/models"
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

	q := `(?s)^INSERT\s+INTO\s+devices\s*\(id,\s*name,\s*secret_hash\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*RETURNING\s+created_at\s*$`
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q).
		WithArgs("dev-1", "laptop", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	got, err := repo.Create(context.Background(), &models.Device{ID: "dev-1", Name: "laptop", SecretHash: "hash"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected device: %+v", got)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+devices`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Device{ID: "dev-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*name,\s*secret_hash,\s*created_at,\s*last_seen_at,\s*revoked_at\s+FROM\s+devices\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "secret_hash", "created_at", "last_seen_at", "revoked_at"}).
			AddRow("dev-1", "laptop", "hash", now, now, nil))

	got, err := repo.Get(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Name != "laptop" || got.LastSeenAt == nil || got.RevokedAt != nil {
		t.Fatalf("unexpected device: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+devices`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nope")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)FROM\s+devices\s+ORDER\s+BY\s+created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "secret_hash", "created_at", "last_seen_at", "revoked_at"}).
			AddRow("a", "one", "h", now, nil, nil).
			AddRow("b", "two", "h", now, nil, now))

	got, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 || got[1].RevokedAt == nil {
		t.Fatalf("unexpected devices: %+v", got)
	}
}

func TestTouch(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE devices SET last_seen_at = now\(\) WHERE id = \$1`).
		WithArgs("dev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Touch(context.Background(), "dev-1"); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `UPDATE devices SET revoked_at = now\(\) WHERE id = \$1 AND revoked_at IS NULL`
	mock.ExpectExec(q).WithArgs("dev-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("dev-1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Revoke(context.Background(), "dev-1"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if err := repo.Revoke(context.Background(), "dev-1"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound on second revoke, got %v", err)
	}
}
