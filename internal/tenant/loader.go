package tenant

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/campuscare/caresync/internal/syncconfig"
	"github.com/campuscare/caresync/internal/tenant/campus"
)

// loadCampus turns id → *Tenant.  Steps:
//
//  1. Fetch the live campus row (suspended and deleted rows miss).
//  2. Fetch the sync configuration, which may not exist yet.
func loadCampus(ctx context.Context, db *sqlx.DB, id uint64) (*Tenant, error) {
	rec, err := campus.ByID(ctx, db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	cfg, err := syncconfig.ByCampus(ctx, db, rec.ID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		cfg = nil
	}

	return &Tenant{Meta: *rec, Sync: cfg}, nil
}
