package campus

import (
	"context"

	"github.com/jmoiron/sqlx"
)

const columns = `id, name, core_church_id, suspended_at, deleted_at,
	created_at, updated_at`

// ByID fetches a single live campus row.  The caller supplies a context so
// the lookup respects request deadlines.
func ByID(ctx context.Context, db *sqlx.DB, id uint64) (*Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   campus
        WHERE  id = ?
          AND  suspended_at IS NULL
          AND  deleted_at   IS NULL
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ByChurchID resolves the core system's church identifier to a live
// campus.  Webhook routing uses this on every inbound call, so the column
// carries a unique index.
func ByChurchID(ctx context.Context, db *sqlx.DB, churchID string) (*Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   campus
        WHERE  core_church_id = ?
          AND  suspended_at IS NULL
          AND  deleted_at   IS NULL
        LIMIT  1`
	var rec Record
	if err := db.GetContext(ctx, &rec, q, churchID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AllActive returns every campus that is neither suspended nor deleted.
func AllActive(ctx context.Context, db *sqlx.DB) ([]Record, error) {
	const q = `
        SELECT ` + columns + `
        FROM   campus
        WHERE  suspended_at IS NULL
          AND  deleted_at   IS NULL`
	var rows []Record
	if err := db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}
