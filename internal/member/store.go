// internal/member/store.go
//
// Member Store
// ------------
// Every mutation here is a single guarded statement: the WHERE clause names
// the state the row must still be in, so interleaved runs and webhook deltas
// cannot double-apply a transition.
package member

import (
	"context"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

const columns = `id, campus_id, external_member_id, name, phone, birth_date,
	age, gender, photo, attributes, is_archived, created_at, updated_at`

// ByExternalID loads one synced member, archived or not.  sql.ErrNoRows
// means the campus has never seen this external id.
func ByExternalID(ctx context.Context, db *sqlx.DB, campusID uint64, externalID string) (*Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   member
        WHERE  campus_id = ? AND external_member_id = ?
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, campusID, externalID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts a new member row and backfills rec.ID.  A duplicate-key
// error means another writer created the same (campus, external id) pair
// first; callers detect that with database.Duplicate and re-read.
func Create(ctx context.Context, db *sqlx.DB, rec *Record) error {
	const q = `
        INSERT INTO member
               (campus_id, external_member_id, name, phone, birth_date,
                age, gender, photo, attributes)
        VALUES (:campus_id, :external_member_id, :name, :phone, :birth_date,
                :age, :gender, :photo, :attributes)`
	res, err := db.NamedExecContext(ctx, q, rec)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = uint64(id)
	return nil
}

// UpdateFields sets exactly the named columns on one row.  Keys are column
// names owned by callers, never user input.  The column order is sorted so
// the statement is stable for a given field set.
func UpdateFields(ctx context.Context, db *sqlx.DB, id uint64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString("UPDATE member SET ")
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c)
		b.WriteString(" = ?")
		args = append(args, fields[c])
	}
	b.WriteString(" WHERE id = ?")
	args = append(args, id)

	_, err := db.ExecContext(ctx, b.String(), args...)
	return err
}

// Archive flips one active synced member to archived.  Returns false when
// the row was already archived or does not exist, which keeps repeated
// deletion deltas idempotent.
func Archive(ctx context.Context, db *sqlx.DB, campusID uint64, externalID string) (bool, error) {
	const q = `
        UPDATE member SET is_archived = 1
        WHERE  campus_id = ? AND external_member_id = ? AND is_archived = 0`
	res, err := db.ExecContext(ctx, q, campusID, externalID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ArchiveMissing archives every active synced member of the campus whose
// external id is absent from seen, and reports how many rows flipped.
// Hand-created members (NULL external id) are out of scope.  An empty seen
// set archives the whole synced roster; callers only reach this after a
// complete fetch, so empty genuinely means the remote returned nobody.
func ArchiveMissing(ctx context.Context, db *sqlx.DB, campusID uint64, seen []string) (int64, error) {
	q := `
        UPDATE member SET is_archived = 1
        WHERE  campus_id = ?
          AND  is_archived = 0
          AND  external_member_id IS NOT NULL`
	args := []any{campusID}

	if len(seen) > 0 {
		in, inArgs, err := sqlx.In(` AND external_member_id NOT IN (?)`, seen)
		if err != nil {
			return 0, err
		}
		q += in
		args = append(args, inArgs...)
	}

	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
