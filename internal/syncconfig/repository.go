package syncconfig

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrNotConfigured is returned when an operation needs a sync_config row
// that does not exist yet.
var ErrNotConfigured = errors.New("campus has no sync configuration")

const columns = `campus_id, sync_method, base_url, login_path, members_path,
	credentials_enc, polling_interval_hours, is_enabled, filter_mode,
	filter_rules, reconciliation_time, webhook_secret, phone_region,
	created_at, updated_at`

// ByCampus fetches the sync configuration of one campus.  sql.ErrNoRows
// means the campus has never been configured.
func ByCampus(ctx context.Context, db *sqlx.DB, campusID uint64) (*Config, error) {
	const q = `
        SELECT ` + columns + `
        FROM   sync_config
        WHERE  campus_id = ?
        LIMIT  1`
	var cfg Config
	if err := db.GetContext(ctx, &cfg, q, campusID); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AllEnabled returns every enabled configuration whose campus is live.
// The scheduler scans this on each tick, so suspended and deleted campuses
// drop out of rotation without restarts.
func AllEnabled(ctx context.Context, db *sqlx.DB) ([]Config, error) {
	const q = `
        SELECT s.campus_id, s.sync_method, s.base_url, s.login_path,
               s.members_path, s.credentials_enc, s.polling_interval_hours,
               s.is_enabled, s.filter_mode, s.filter_rules,
               s.reconciliation_time, s.webhook_secret, s.phone_region,
               s.created_at, s.updated_at
        FROM   sync_config s
        JOIN   campus c ON c.id = s.campus_id
        WHERE  s.is_enabled = 1
          AND  c.suspended_at IS NULL
          AND  c.deleted_at   IS NULL`
	var rows []Config
	if err := db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// Save upserts the campus's configuration.  created_at survives updates;
// every other column takes the new value.
func Save(ctx context.Context, db *sqlx.DB, cfg *Config) error {
	const q = `
        INSERT INTO sync_config
               (campus_id, sync_method, base_url, login_path, members_path,
                credentials_enc, polling_interval_hours, is_enabled,
                filter_mode, filter_rules, reconciliation_time,
                webhook_secret, phone_region)
        VALUES (:campus_id, :sync_method, :base_url, :login_path,
                :members_path, :credentials_enc, :polling_interval_hours,
                :is_enabled, :filter_mode, :filter_rules,
                :reconciliation_time, :webhook_secret, :phone_region)
        ON DUPLICATE KEY UPDATE
                sync_method            = VALUES(sync_method),
                base_url               = VALUES(base_url),
                login_path             = VALUES(login_path),
                members_path           = VALUES(members_path),
                credentials_enc        = VALUES(credentials_enc),
                polling_interval_hours = VALUES(polling_interval_hours),
                is_enabled             = VALUES(is_enabled),
                filter_mode            = VALUES(filter_mode),
                filter_rules           = VALUES(filter_rules),
                reconciliation_time    = VALUES(reconciliation_time),
                webhook_secret         = VALUES(webhook_secret),
                phone_region           = VALUES(phone_region)`
	_, err := db.NamedExecContext(ctx, q, cfg)
	return err
}

// SetSecret rotates the webhook secret in place.  The old secret stops
// verifying the moment this commits.
func SetSecret(ctx context.Context, db *sqlx.DB, campusID uint64, secret string) error {
	const q = `UPDATE sync_config SET webhook_secret = ? WHERE campus_id = ?`
	res, err := db.ExecContext(ctx, q, secret, campusID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotConfigured
	}
	return nil
}
