// Package postgres implements the gateway's durable stores against
// PostgreSQL via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS redirects (
		id          BIGSERIAL PRIMARY KEY,
		public_id   TEXT NOT NULL UNIQUE,
		human_url   TEXT NOT NULL,
		bot_url     TEXT NOT NULL,
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		owner_id    BIGINT NOT NULL DEFAULT 0,
		total_hits  BIGINT NOT NULL DEFAULT 0,
		human_hits  BIGINT NOT NULL DEFAULT 0,
		bot_hits    BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ip_cache (
		ip          TEXT PRIMARY KEY,
		reason      TEXT NOT NULL DEFAULT '',
		trust_level TEXT NOT NULL DEFAULT 'none',
		country     TEXT NOT NULL DEFAULT '',
		region      TEXT NOT NULL DEFAULT '',
		city        TEXT NOT NULL DEFAULT '',
		isp         TEXT NOT NULL DEFAULT '',
		usage_type  TEXT NOT NULL DEFAULT '',
		cached_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_hit    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		hit_count   BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS visitor_logs (
		id            UUID PRIMARY KEY,
		redirect_id   BIGINT,
		ip            TEXT NOT NULL,
		country       TEXT NOT NULL DEFAULT '',
		city          TEXT NOT NULL DEFAULT '',
		isp           TEXT NOT NULL DEFAULT '',
		user_agent    TEXT NOT NULL DEFAULT '',
		browser       TEXT NOT NULL DEFAULT '',
		device        TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL,
		trust_level   TEXT NOT NULL DEFAULT 'none',
		reason        TEXT NOT NULL DEFAULT '',
		redirected_to TEXT NOT NULL DEFAULT '',
		ts            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visitor_logs_ts ON visitor_logs (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_visitor_logs_redirect ON visitor_logs (redirect_id)`,
	`CREATE TABLE IF NOT EXISTS realtime_events (
		id            UUID PRIMARY KEY,
		redirect_id   BIGINT,
		ip            TEXT NOT NULL,
		country       TEXT NOT NULL DEFAULT '',
		user_agent    TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL,
		reason        TEXT NOT NULL DEFAULT '',
		ts            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_realtime_events_ts ON realtime_events (ts)`,
	`CREATE TABLE IF NOT EXISTS captured_emails (
		id               UUID PRIMARY KEY,
		email            TEXT NOT NULL,
		parameter_format TEXT NOT NULL DEFAULT '',
		redirect_id      BIGINT,
		ip               TEXT NOT NULL DEFAULT '',
		country          TEXT NOT NULL DEFAULT '',
		ts               TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ip_ranges (
		cidr       TEXT PRIMARY KEY,
		origin_ip  TEXT NOT NULL DEFAULT '',
		reason     TEXT NOT NULL DEFAULT '',
		usage_type TEXT NOT NULL DEFAULT '',
		country    TEXT NOT NULL DEFAULT '',
		isp        TEXT NOT NULL DEFAULT '',
		ip_count   BIGINT NOT NULL DEFAULT 1,
		hit_count  BIGINT NOT NULL DEFAULT 0,
		last_hit   TIMESTAMPTZ,
		added_by   TEXT NOT NULL DEFAULT 'auto',
		added_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS isp_configs (
		id             BIGSERIAL PRIMARY KEY,
		pattern        TEXT NOT NULL,
		classification TEXT NOT NULL,
		reason         TEXT NOT NULL DEFAULT '',
		enabled        BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS user_agent_patterns (
		id       BIGSERIAL PRIMARY KEY,
		pattern  TEXT NOT NULL,
		category TEXT NOT NULL,
		reason   TEXT NOT NULL DEFAULT '',
		enabled  BOOLEAN NOT NULL DEFAULT TRUE
	)`,
}

// EnsureSchema creates every gateway table if missing. Idempotent; safe
// to run on each startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
