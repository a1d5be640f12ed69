// internal/engine/lease.go
//
// Per-Campus Run Lease
// --------------------
// One row in sync_lease means one run in flight.  The primary key is the
// lock: a second acquire hits a duplicate-key error and backs off.  Stale
// rows are reaped on the way in, so a crashed run can wedge a campus for at
// most one TTL.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/campuscare/caresync/internal/database"
)

// ErrSyncInFlight reports that another run holds the campus lease.
var ErrSyncInFlight = errors.New("sync already in flight for campus")

// AcquireLease claims the campus for one run and returns the release
// function.  Release deletes only the caller's own row, so an expired lease
// taken over by somebody else is never clobbered.
func AcquireLease(ctx context.Context, db *sqlx.DB, campusID uint64, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	owner := uuid.NewString()

	const reap = `DELETE FROM sync_lease WHERE campus_id = ? AND expires_at < ?`
	if _, err := db.ExecContext(ctx, reap, campusID, time.Now()); err != nil {
		return nil, err
	}

	const claim = `INSERT INTO sync_lease (campus_id, owner, expires_at) VALUES (?, ?, ?)`
	if _, err := db.ExecContext(ctx, claim, campusID, owner, time.Now().Add(ttl)); err != nil {
		if database.Duplicate(err) {
			return nil, ErrSyncInFlight
		}
		return nil, err
	}

	release := func() {
		// Runs during shutdown too, after the caller's ctx is dead.
		const drop = `DELETE FROM sync_lease WHERE campus_id = ? AND owner = ?`
		if _, err := db.ExecContext(context.Background(), drop, campusID, owner); err != nil {
			zap.S().Warnw("sync lease release failed", "campus_id", campusID, "error", err)
		}
	}
	return release, nil
}
