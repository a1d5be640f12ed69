// schema.go owns the DDL for every table the sync engine touches.  The
// statements are idempotent (CREATE TABLE IF NOT EXISTS) and applied one by
// one at boot, because the MySQL driver rejects multi-statement Exec by
// default.  Column changes beyond additive ones need a migration instead.
package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS campus (
		id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		name           VARCHAR(190)    NOT NULL,
		core_church_id VARCHAR(64)     NOT NULL,
		suspended_at   DATETIME        NULL,
		deleted_at     DATETIME        NULL,
		created_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE KEY uq_campus_church (core_church_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS sync_config (
		campus_id              BIGINT UNSIGNED NOT NULL,
		sync_method            ENUM('polling','webhook') NOT NULL DEFAULT 'polling',
		base_url               VARCHAR(255)    NOT NULL DEFAULT '',
		login_path             VARCHAR(255)    NOT NULL DEFAULT '/api/login',
		members_path           VARCHAR(255)    NOT NULL DEFAULT '/api/members',
		credentials_enc        TEXT            NOT NULL,
		polling_interval_hours INT             NOT NULL DEFAULT 6,
		is_enabled             TINYINT(1)      NOT NULL DEFAULT 0,
		filter_mode            ENUM('include','exclude') NOT NULL DEFAULT 'include',
		filter_rules           JSON            NOT NULL,
		reconciliation_time    CHAR(5)         NOT NULL DEFAULT '03:00',
		webhook_secret         CHAR(64)        NOT NULL,
		phone_region           CHAR(2)         NOT NULL DEFAULT 'US',
		created_at             DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at             DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (campus_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS member (
		id                 BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		campus_id          BIGINT UNSIGNED NOT NULL,
		external_member_id VARCHAR(64)     NULL,
		name               VARCHAR(190)    NOT NULL DEFAULT '',
		phone              VARCHAR(32)     NOT NULL DEFAULT '',
		birth_date         DATE            NULL,
		age                INT             NULL,
		gender             VARCHAR(32)     NOT NULL DEFAULT '',
		photo              MEDIUMBLOB      NULL,
		attributes         JSON            NULL,
		is_archived        TINYINT(1)      NOT NULL DEFAULT 0,
		created_at         DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE KEY uq_member_campus_external (campus_id, external_member_id),
		KEY idx_member_campus_archived (campus_id, is_archived)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS sync_run_log (
		id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		campus_id    BIGINT UNSIGNED NOT NULL,
		trigger_type ENUM('scheduled','manual','webhook','reconciliation') NOT NULL,
		fetched      INT             NOT NULL DEFAULT 0,
		created      INT             NOT NULL DEFAULT 0,
		updated      INT             NOT NULL DEFAULT 0,
		archived     INT             NOT NULL DEFAULT 0,
		skipped      INT             NOT NULL DEFAULT 0,
		status       ENUM('success','partial','failed') NOT NULL,
		error_detail TEXT            NULL,
		started_at   DATETIME        NOT NULL,
		finished_at  DATETIME        NOT NULL,
		PRIMARY KEY (id),
		KEY idx_run_log_campus_started (campus_id, started_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS webhook_log (
		id              CHAR(36)        NOT NULL,
		campus_id       BIGINT UNSIGNED NULL,
		event           VARCHAR(64)     NOT NULL,
		signature_valid TINYINT(1)      NOT NULL DEFAULT 0,
		outcome         VARCHAR(32)     NOT NULL DEFAULT 'received',
		remote_ip       VARCHAR(45)     NOT NULL DEFAULT '',
		country         CHAR(2)         NOT NULL DEFAULT '',
		payload         JSON            NULL,
		received_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_webhook_log_campus_received (campus_id, received_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS sync_lease (
		campus_id  BIGINT UNSIGNED NOT NULL,
		owner      CHAR(36)        NOT NULL,
		expires_at DATETIME        NOT NULL,
		PRIMARY KEY (campus_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates any missing tables.  Safe to run on every boot.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
