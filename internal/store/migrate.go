package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step. Its statements run in a single
// transaction together with the version bump, so a step is either fully
// applied or not at all.
type migration struct {
	version     int
	description string
	statements  []string
}

// migrations must stay ordered by version; the applied version is kept in
// PRAGMA user_version.
var migrations = []migration{
	{
		version:     1,
		description: "filters and their buttons",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS cust_filters (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id      INTEGER NOT NULL,
				keyword      TEXT NOT NULL,
				reply        TEXT NOT NULL,
				kind         TEXT NOT NULL DEFAULT 'text',
				has_markdown INTEGER NOT NULL DEFAULT 0,
				created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(chat_id, keyword)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_filters_chat ON cust_filters(chat_id, id)`,
			`CREATE TABLE IF NOT EXISTS cust_filter_buttons (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				filter_id INTEGER NOT NULL,
				row_index INTEGER NOT NULL,
				col_index INTEGER NOT NULL,
				label     TEXT NOT NULL,
				target    TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_buttons_filter ON cust_filter_buttons(filter_id, row_index, col_index)`,
		},
	},
	{
		version:     2,
		description: "private chat connections",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS connections (
				user_id      INTEGER PRIMARY KEY,
				chat_id      INTEGER NOT NULL,
				connected_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_connections_chat ON connections(chat_id)`,
		},
	},
}

// LatestVersion is the schema version this build writes.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate brings db up to the latest schema. A database written by a newer
// build is rejected rather than modified.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current > LatestVersion() {
		return fmt.Errorf("database schema v%d is newer than this build (v%d)", current, LatestVersion())
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.version, "description", m.description)
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	for i, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d statement %d: %w", m.version, i+1, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.version, err)
	}
	return nil
}

// SchemaVersion reads the applied schema version. A fresh database is v0.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
