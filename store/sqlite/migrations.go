package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Quota store (SQLite).
var Migrations = migrate.NewGroup("quota")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_quota_events",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS quota_events (
    id          TEXT PRIMARY KEY,
    user_key    TEXT NOT NULL DEFAULT '',
    version     INTEGER NOT NULL DEFAULT 0,
    kind        TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL DEFAULT '{}',
    occurred_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_quota_events_user_version ON quota_events (user_key, version);
CREATE INDEX IF NOT EXISTS idx_quota_events_user ON quota_events (user_key);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS quota_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_quota_snapshots",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS quota_snapshots (
    user_key TEXT PRIMARY KEY,
    id       TEXT NOT NULL DEFAULT '',
    version  INTEGER NOT NULL DEFAULT 0,
    state    TEXT NOT NULL DEFAULT '{}',
    taken_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS quota_snapshots`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_quota_legacy_states",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS quota_legacy_states (
    user_key TEXT PRIMARY KEY,
    state    TEXT NOT NULL DEFAULT '{}',
    saved_at TEXT NOT NULL DEFAULT (datetime('now')),
    migrated INTEGER NOT NULL DEFAULT 0
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS quota_legacy_states`)
				return err
			},
		},
	)
}
