// internal/member/store_test.go
//
// Store tests using sqlmock.
//
// Run: go test ./internal/member -v
package member

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

var memberColumns = []string{
	"id", "campus_id", "external_member_id", "name", "phone", "birth_date",
	"age", "gender", "photo", "attributes", "is_archived",
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

func strPtr(s string) *string { return &s }

func TestByExternalID(t *testing.T) {
	db, mock := mockDB(t)
	now := time.Now()
	born := time.Date(1991, 4, 12, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM\s+member\s+WHERE\s+campus_id = \? AND external_member_id = \?`).
		WithArgs(uint64(3), "m_100").
		WillReturnRows(sqlmock.NewRows(memberColumns).
			AddRow(uint64(12), uint64(3), "m_100", "Ada Yoon", "+15125550101",
				born, 34, "female", nil, []byte(`{"zip":"78704","visits":12}`),
				false, now, now))

	rec, err := ByExternalID(context.Background(), db, 3, "m_100")
	if err != nil {
		t.Fatalf("ByExternalID error: %v", err)
	}
	if rec.ID != 12 || rec.Name != "Ada Yoon" || rec.IsArchived {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.BirthDate == nil || !rec.BirthDate.Equal(born) {
		t.Fatalf("birth_date = %v", rec.BirthDate)
	}
	if rec.Attributes["zip"] != "78704" {
		t.Fatalf("attributes did not scan: %+v", rec.Attributes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestByExternalIDUnknown(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectQuery(`FROM\s+member`).
		WithArgs(uint64(3), "m_none").
		WillReturnError(sql.ErrNoRows)

	_, err := ByExternalID(context.Background(), db, 3, "m_none")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("want sql.ErrNoRows, got %v", err)
	}
}

func TestCreateBackfillsID(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectExec(`INSERT INTO member`).
		WillReturnResult(sqlmock.NewResult(41, 1))

	rec := &Record{
		CampusID:         3,
		ExternalMemberID: strPtr("m_200"),
		Name:             "Ben Ortiz",
		Phone:            "+15125550102",
		Gender:           "male",
		Attributes:       Attributes{"zip": "78745"},
	}
	if err := Create(context.Background(), db, rec); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.ID != 41 {
		t.Fatalf("ID = %d, want 41", rec.ID)
	}
}

func TestUpdateFieldsSortsColumns(t *testing.T) {
	db, mock := mockDB(t)

	// phone sorts after name regardless of map iteration order.
	mock.ExpectExec(`UPDATE member SET name = \?, phone = \? WHERE id = \?`).
		WithArgs("New Name", "+15125550199", uint64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := UpdateFields(context.Background(), db, 12, map[string]any{
		"phone": "+15125550199",
		"name":  "New Name",
	})
	if err != nil {
		t.Fatalf("UpdateFields error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestUpdateFieldsEmptyIsNoop(t *testing.T) {
	db, mock := mockDB(t)

	if err := UpdateFields(context.Background(), db, 12, nil); err != nil {
		t.Fatalf("UpdateFields error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("statement issued for empty field set: %v", err)
	}
}

func TestArchiveIsGuarded(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectExec(`UPDATE member SET is_archived = 1\s+WHERE\s+campus_id = \? AND external_member_id = \? AND is_archived = 0`).
		WithArgs(uint64(3), "m_100").
		WillReturnResult(sqlmock.NewResult(0, 1))

	flipped, err := Archive(context.Background(), db, 3, "m_100")
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	if !flipped {
		t.Fatal("first archive should flip the row")
	}

	// Second delivery of the same delta matches zero rows.
	mock.ExpectExec(`UPDATE member SET is_archived = 1`).
		WithArgs(uint64(3), "m_100").
		WillReturnResult(sqlmock.NewResult(0, 0))

	flipped, err = Archive(context.Background(), db, 3, "m_100")
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	if flipped {
		t.Fatal("repeat archive should be a no-op")
	}
}

func TestArchiveMissing(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectExec(`UPDATE member SET is_archived = 1\s+WHERE\s+campus_id = \?\s+AND\s+is_archived = 0\s+AND\s+external_member_id IS NOT NULL\s+AND external_member_id NOT IN \(\?, \?\)`).
		WithArgs(uint64(3), "m_100", "m_200").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := ArchiveMissing(context.Background(), db, 3, []string{"m_100", "m_200"})
	if err != nil {
		t.Fatalf("ArchiveMissing error: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d rows, want 2", n)
	}
}

func TestArchiveMissingEmptySeenSweepsRoster(t *testing.T) {
	db, mock := mockDB(t)

	// No NOT IN clause: every active synced member goes.
	mock.ExpectExec(`UPDATE member SET is_archived = 1\s+WHERE\s+campus_id = \?\s+AND\s+is_archived = 0\s+AND\s+external_member_id IS NOT NULL$`).
		WithArgs(uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := ArchiveMissing(context.Background(), db, 3, nil)
	if err != nil {
		t.Fatalf("ArchiveMissing error: %v", err)
	}
	if n != 7 {
		t.Fatalf("archived %d rows, want 7", n)
	}
}
