package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent; Migrate can run on every start
var schema = []string{
	`CREATE TABLE IF NOT EXISTS instruments (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		category    TEXT,
		issuer      TEXT NOT NULL DEFAULT '',
		is_direct   BOOLEAN NOT NULL DEFAULT FALSE,
		is_growth   BOOLEAN NOT NULL DEFAULT FALSE,
		launch_date DATE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_instruments_category ON instruments (category)`,

	`CREATE TABLE IF NOT EXISTS valuations (
		code          TEXT NOT NULL REFERENCES instruments (code),
		date          DATE NOT NULL,
		value         NUMERIC(20, 8) NOT NULL CHECK (value > 0),
		is_suspicious BOOLEAN NOT NULL DEFAULT FALSE,
		change_pct    DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (code, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_valuations_suspicious ON valuations (code) WHERE is_suspicious`,

	`CREATE TABLE IF NOT EXISTS metrics_snapshots (
		code             TEXT PRIMARY KEY REFERENCES instruments (code),
		cagr_1y          DOUBLE PRECISION,
		quality_1y       TEXT NOT NULL CHECK (quality_1y IN ('historical', 'approx', 'estimated')),
		gap_days_1y      INTEGER NOT NULL DEFAULT 0,
		sufficient_1y    BOOLEAN NOT NULL DEFAULT FALSE,
		cagr_3y          DOUBLE PRECISION,
		quality_3y       TEXT NOT NULL CHECK (quality_3y IN ('historical', 'approx', 'estimated')),
		gap_days_3y      INTEGER NOT NULL DEFAULT 0,
		sufficient_3y    BOOLEAN NOT NULL DEFAULT FALSE,
		cagr_5y          DOUBLE PRECISION,
		quality_5y       TEXT NOT NULL CHECK (quality_5y IN ('historical', 'approx', 'estimated')),
		gap_days_5y      INTEGER NOT NULL DEFAULT 0,
		sufficient_5y    BOOLEAN NOT NULL DEFAULT FALSE,
		longest_gap_days INTEGER NOT NULL DEFAULT 0,
		suspicious_count INTEGER NOT NULL DEFAULT 0,
		last_calculated  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ingestion_logs (
		id              UUID PRIMARY KEY,
		run_id          TEXT NOT NULL,
		code            TEXT NOT NULL,
		status          TEXT NOT NULL CHECK (status IN ('success', 'failed')),
		records_fetched INTEGER NOT NULL DEFAULT 0,
		records_stored  INTEGER NOT NULL DEFAULT 0,
		error_message   TEXT,
		started_at      TIMESTAMPTZ NOT NULL,
		completed_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ingestion_logs_code ON ingestion_logs (code, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ingestion_logs_run ON ingestion_logs (run_id)`,
}

// Migrate creates the tables and indexes in one transaction
func Migrate(ctx context.Context, db *DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
