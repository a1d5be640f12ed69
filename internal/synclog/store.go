// internal/synclog/store.go
//
// Sync Audit Store
// ----------------
// Append and page the run trail, append and patch the webhook trail.
// Nothing here ever updates counts after the fact; a run row is written
// once, complete.
package synclog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Append writes one finished run and backfills run.ID.
func Append(ctx context.Context, db *sqlx.DB, run *Run) error {
	const q = `
        INSERT INTO sync_run_log
               (campus_id, trigger_type, fetched, created, updated,
                archived, skipped, status, error_detail,
                started_at, finished_at)
        VALUES (:campus_id, :trigger_type, :fetched, :created, :updated,
                :archived, :skipped, :status, :error_detail,
                :started_at, :finished_at)`
	res, err := db.NamedExecContext(ctx, q, run)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = uint64(id)
	return nil
}

// List returns one newest-first page of the campus's run trail plus the
// total row count.  Page numbers start at 1; limit is clamped to
// [1, 100] with 20 as the default.
func List(ctx context.Context, db *sqlx.DB, campusID uint64, page, limit int) ([]Run, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var total int
	const countQ = `SELECT COUNT(*) FROM sync_run_log WHERE campus_id = ?`
	if err := db.GetContext(ctx, &total, countQ, campusID); err != nil {
		return nil, 0, err
	}

	const q = `
        SELECT id, campus_id, trigger_type, fetched, created, updated,
               archived, skipped, status, error_detail, started_at, finished_at
        FROM   sync_run_log
        WHERE  campus_id = ?
        ORDER  BY started_at DESC, id DESC
        LIMIT  ? OFFSET ?`
	rows := []Run{}
	if err := db.SelectContext(ctx, &rows, q, campusID, limit, (page-1)*limit); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// AppendWebhook writes one delivery row.  A missing ID gets a fresh uuid, a
// zero ReceivedAt gets the current time; both are backfilled on wl.
func AppendWebhook(ctx context.Context, db *sqlx.DB, wl *WebhookLog) error {
	if wl.ID == "" {
		wl.ID = uuid.NewString()
	}
	if wl.ReceivedAt.IsZero() {
		wl.ReceivedAt = time.Now()
	}
	const q = `
        INSERT INTO webhook_log
               (id, campus_id, event, signature_valid, outcome,
                remote_ip, country, payload, received_at)
        VALUES (:id, :campus_id, :event, :signature_valid, :outcome,
                :remote_ip, :country, :payload, :received_at)`
	_, err := db.NamedExecContext(ctx, q, wl)
	return err
}

// PatchWebhookOutcome moves a delivery row to its terminal outcome.
func PatchWebhookOutcome(ctx context.Context, db *sqlx.DB, id, outcome string) error {
	const q = `UPDATE webhook_log SET outcome = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, q, outcome, id)
	return err
}
