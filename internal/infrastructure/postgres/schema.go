package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS product_registry (
		identifier TEXT PRIMARY KEY,
		status     TEXT NOT NULL CHECK (status IN ('genuine', 'counterfeit', 'unknown')),
		name       TEXT,
		brand      TEXT,
		batch      TEXT,
		expiry     TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS fraud_incidents (
		id       BIGSERIAL PRIMARY KEY,
		location TEXT NOT NULL,
		lat      DOUBLE PRECISION NOT NULL,
		lng      DOUBLE PRECISION NOT NULL,
		count    INTEGER NOT NULL CHECK (count >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS counterfeit_reports (
		id          UUID PRIMARY KEY,
		identifier  TEXT NOT NULL,
		status      TEXT NOT NULL,
		location    TEXT,
		notes       TEXT,
		device_id   TEXT,
		role        TEXT NOT NULL,
		reported_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_identifier ON counterfeit_reports (identifier)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_id   TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		kafka_topic    TEXT NOT NULL,
		kafka_key      TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		last_error     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unprocessed ON outbox (created_at) WHERE processed_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS inbox (
		idempotency_key TEXT PRIMARY KEY,
		handler_name    TEXT NOT NULL,
		status          TEXT NOT NULL,
		payload         JSONB,
		result          JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at      TIMESTAMPTZ
	)`,
}

// Migrate creates the tables used by the API and relay. Statements are
// idempotent and safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
