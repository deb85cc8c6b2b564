package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT    NOT NULL,
		name       TEXT    NOT NULL,
		timezone   TEXT    NOT NULL DEFAULT 'UTC',
		schedule   TEXT    NOT NULL,
		blocks     TEXT    NOT NULL DEFAULT '[]',
		running    INTEGER NOT NULL DEFAULT 0,
		created_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		thread_id TEXT PRIMARY KEY REFERENCES threads(id),
		next_fire TEXT NOT NULL,
		schedule  TEXT NOT NULL,
		timezone  TEXT NOT NULL DEFAULT 'UTC',
		armed_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		thread_id   TEXT NOT NULL,
		status      TEXT NOT NULL,
		outcomes    TEXT NOT NULL DEFAULT '[]',
		started_at  TEXT NOT NULL,
		finished_at TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS transfers (
		id          TEXT PRIMARY KEY,
		request_id  TEXT NOT NULL UNIQUE,
		thread_id   TEXT NOT NULL,
		owner_id    TEXT NOT NULL,
		payer       TEXT NOT NULL DEFAULT '',
		receiver    TEXT NOT NULL,
		amount      REAL NOT NULL,
		tx_ref      TEXT NOT NULL DEFAULT '',
		fail_reason TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_transfers_owner ON transfers(owner_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_thread ON transfers(thread_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS items (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id    TEXT    NOT NULL,
		run_id       TEXT    NOT NULL,
		block_index  INTEGER NOT NULL,
		source_kind  TEXT    NOT NULL,
		author       TEXT    NOT NULL DEFAULT '',
		text         TEXT    NOT NULL,
		quoted_ref   TEXT    NOT NULL DEFAULT '',
		url          TEXT    NOT NULL DEFAULT '',
		retrieved_at TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_items_thread ON items(thread_id, retrieved_at)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("store: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}

	return nil
}
