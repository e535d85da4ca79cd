package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
// Migrations only ever create; existing tables are never dropped or altered.
var migrations = []Migration{
	{
		Version:     1,
		Description: "fever cache tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS groups (
    id INTEGER PRIMARY KEY NOT NULL,
    title TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feeds (
    id INTEGER PRIMARY KEY NOT NULL,
    favicon_id INTEGER NOT NULL,
    title TEXT,
    url TEXT,
    site_url TEXT,
    is_spark INTEGER NOT NULL,
    last_updated_on_time TIMESTAMP
);

CREATE TABLE IF NOT EXISTS feeds_group (
    group_id INTEGER NOT NULL,
    feed_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS favicons (
    id INTEGER PRIMARY KEY NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY NOT NULL,
    feed_id INTEGER,
    title TEXT,
    author TEXT,
    html TEXT,
    url TEXT,
    is_saved INTEGER,
    is_read INTEGER,
    created_on_time TIMESTAMP
);

CREATE TABLE IF NOT EXISTS links (
    id INTEGER PRIMARY KEY NOT NULL,
    feed_id INTEGER,
    item_id INTEGER,
    temperature NUMERIC,
    is_item NUMERIC,
    is_local NUMERIC,
    is_saved NUMERIC,
    title TEXT,
    url TEXT,
    item_ids TEXT
);

CREATE TABLE IF NOT EXISTS last_refreshed_on_time (
    last_refreshed_on_time TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idxItemId ON items (id ASC);
CREATE INDEX IF NOT EXISTS idxLinksId ON links (id ASC);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
