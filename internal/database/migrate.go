package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// isLegacyDB returns true if the database already holds an items table but no
// user_version. Caches written by the earlier fvr.db tooling look like this.
func isLegacyDB(conn *sql.DB) (bool, error) {
	var count int
	err := conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='items'",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking for legacy tables: %w", err)
	}
	return count > 0, nil
}

// Views created by the fvr.db tooling. Their definitions predate the
// current columns.
var legacyViews = []string{"vwSaved", "vwUnread", "vwAllItems", "vwArchive", "vwFever", "vwFever2"}

// adoptLegacy drops the views of an fvr.db cache in one transaction. Its
// tables and rows are kept.
func adoptLegacy(conn *sql.DB) error {
	slog.Info("adopting legacy database")
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin legacy adoption: %w", err)
	}
	defer tx.Rollback()

	for _, name := range legacyViews {
		if _, err := tx.Exec(fmt.Sprintf("DROP VIEW IF EXISTS %q", name)); err != nil {
			return fmt.Errorf("dropping legacy view %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// migrate brings the database schema up to the latest version.
// It uses PRAGMA user_version to track which migrations have been applied.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}

	// Migration 1 only uses IF NOT EXISTS, so it runs on top of a legacy
	// cache's tables and fills in what is missing.
	if current == 0 {
		legacy, err := isLegacyDB(conn)
		if err != nil {
			return err
		}
		if legacy {
			if err := adoptLegacy(conn); err != nil {
				return err
			}
		}
	}

	latest := latestVersion()
	if current >= latest {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		slog.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// modernc/sqlite will not set user_version inside a transaction.
		// The DDL is idempotent, so a crash here just re-runs the migration.
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("setting version %d: %w", m.Version, err)
		}
	}

	return nil
}
