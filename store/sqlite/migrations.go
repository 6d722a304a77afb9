package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Herald store (SQLite).
var Migrations = migrate.NewGroup("herald")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_herald_subscriptions",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_subscriptions (
    id                 TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL,
    target_url         TEXT NOT NULL,
    secret             TEXT NOT NULL,
    subscribed_events  TEXT NOT NULL DEFAULT '[]',
    active             INTEGER NOT NULL DEFAULT 1,
    retry_enabled      INTEGER NOT NULL DEFAULT 1,
    max_attempts       INTEGER NOT NULL DEFAULT 3,
    timeout_seconds    INTEGER NOT NULL DEFAULT 10,
    custom_headers     TEXT NOT NULL DEFAULT '{}',
    last_triggered_at  TIMESTAMP,
    created_at         TIMESTAMP NOT NULL DEFAULT (datetime('now')),
    updated_at         TIMESTAMP NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_herald_subscriptions_tenant ON herald_subscriptions (tenant_id, active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_herald_attempts",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS herald_attempts (
    id               TEXT PRIMARY KEY,
    subscription_id  TEXT NOT NULL,
    tenant_id        TEXT NOT NULL,
    event_kind       TEXT NOT NULL,
    event_id         TEXT NOT NULL,
    attempt_number   INTEGER NOT NULL,
    request_url      TEXT NOT NULL DEFAULT '',
    request_headers  TEXT NOT NULL DEFAULT '{}',
    request_body     TEXT NOT NULL DEFAULT '',
    signature        TEXT NOT NULL DEFAULT '',
    status_code      INTEGER NOT NULL DEFAULT 0,
    response_body    TEXT NOT NULL DEFAULT '',
    latency_ms       INTEGER NOT NULL DEFAULT 0,
    outcome          TEXT NOT NULL DEFAULT 'pending',
    error            TEXT NOT NULL DEFAULT '',
    error_class      TEXT NOT NULL DEFAULT '',
    next_retry_at    TIMESTAMP,
    created_at       TIMESTAMP NOT NULL DEFAULT (datetime('now')),
    updated_at       TIMESTAMP NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_herald_attempts_subscription ON herald_attempts (subscription_id, created_at);
CREATE INDEX IF NOT EXISTS idx_herald_attempts_tenant ON herald_attempts (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_herald_attempts_chain ON herald_attempts (subscription_id, event_id, attempt_number);
CREATE INDEX IF NOT EXISTS idx_herald_attempts_due ON herald_attempts (outcome, next_retry_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS herald_attempts`)
				return err
			},
		},
	)
}
