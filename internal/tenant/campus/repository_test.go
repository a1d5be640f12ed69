// internal/tenant/campus/repository_test.go
//
// Repository tests using sqlmock.
//
// Run: go test ./internal/tenant/campus -v
package campus

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

var recordColumns = []string{
	"id", "name", "core_church_id", "suspended_at", "deleted_at",
	"created_at", "updated_at",
}

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func TestByID(t *testing.T) {
	db, mock := mockDB(t)
	now := time.Now()

	mock.ExpectQuery(`FROM\s+campus\s+WHERE\s+id = \?\s+AND\s+suspended_at IS NULL\s+AND\s+deleted_at\s+IS NULL`).
		WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(uint64(3), "North Campus", "church_8821", nil, nil, now, now))

	rec, err := ByID(context.Background(), db, 3)
	if err != nil {
		t.Fatalf("ByID error: %v", err)
	}
	if rec.CoreChurchID != "church_8821" || !rec.Live() {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestByChurchID(t *testing.T) {
	db, mock := mockDB(t)
	now := time.Now()

	mock.ExpectQuery(`FROM\s+campus\s+WHERE\s+core_church_id = \?`).
		WithArgs("church_8821").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(uint64(3), "North Campus", "church_8821", nil, nil, now, now))

	rec, err := ByChurchID(context.Background(), db, "church_8821")
	if err != nil {
		t.Fatalf("ByChurchID error: %v", err)
	}
	if rec.ID != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestByIDSuspendedIsInvisible(t *testing.T) {
	db, mock := mockDB(t)

	// The WHERE clause excludes the row, so the driver reports no rows.
	mock.ExpectQuery(`FROM\s+campus\s+WHERE\s+id = \?`).
		WithArgs(uint64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := ByID(context.Background(), db, 9)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("want sql.ErrNoRows, got %v", err)
	}
}

func TestAllActive(t *testing.T) {
	db, mock := mockDB(t)
	now := time.Now()

	mock.ExpectQuery(`FROM\s+campus\s+WHERE\s+suspended_at IS NULL`).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(uint64(1), "North", "c1", nil, nil, now, now).
			AddRow(uint64(2), "South", "c2", nil, nil, now, now))

	rows, err := AllActive(context.Background(), db)
	if err != nil {
		t.Fatalf("AllActive error: %v", err)
	}
	if len(rows) != 2 || rows[1].Name != "South" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
