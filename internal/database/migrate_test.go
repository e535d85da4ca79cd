package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateNewDB(t *testing.T) {
	db := openTestDB(t)

	version, err := getSchemaVersion(db.conn.DB)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigrateLegacyDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// Simulate a pre-migration database: create tables without setting user_version.
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	_, err = raw.Exec(`CREATE TABLE items (
		id INTEGER PRIMARY KEY NOT NULL,
		feed_id INTEGER,
		title TEXT,
		author TEXT,
		html TEXT,
		url TEXT,
		is_saved INTEGER,
		is_read INTEGER,
		created_on_time TIMESTAMP
	)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	_, err = raw.Exec(`CREATE VIEW vwUnread AS SELECT * FROM items WHERE is_read = 0`)
	if err != nil {
		t.Fatalf("create legacy view: %v", err)
	}
	raw.Close()

	// Now open via the migration system.
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	version, err := getSchemaVersion(db.conn.DB)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d after legacy migration, got %d", latestVersion(), version)
	}

	var tables int
	if err := db.conn.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('groups', 'feeds', 'feeds_group', 'favicons', 'links')"); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if tables != 5 {
		t.Errorf("expected missing tables to be created, found %d of 5", tables)
	}

	var legacyViews int
	if err := db.conn.Get(&legacyViews, "SELECT COUNT(*) FROM sqlite_master WHERE type='view' AND name='vwUnread'"); err != nil {
		t.Fatalf("count legacy views: %v", err)
	}
	if legacyViews != 0 {
		t.Error("expected legacy view to be dropped")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idem.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}

	if _, err := db1.InsertItems(context.Background(), []Item{{ID: 1, FeedID: 1, Title: "kept"}}); err != nil {
		t.Fatalf("InsertItems: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	version, err := getSchemaVersion(db2.conn.DB)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}

	it, err := db2.ItemByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected item to survive reopen: %v", err)
	}
	if it.Title != "kept" {
		t.Errorf("expected title 'kept', got %q", it.Title)
	}
}

func TestGetSchemaVersionNewDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	version, err := getSchemaVersion(conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 on new db, got %d", version)
	}
}

func TestIsLegacyDBFalseOnNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fresh.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	legacy, err := isLegacyDB(conn)
	if err != nil {
		t.Fatalf("isLegacyDB: %v", err)
	}
	if legacy {
		t.Error("expected isLegacyDB=false on empty database")
	}
}

func TestAdoptLegacyDropsViewsKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fvr.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	stmts := []string{
		"CREATE TABLE items (id INTEGER PRIMARY KEY, title TEXT)",
		"INSERT INTO items (id, title) VALUES (1, 'kept')",
		"CREATE VIEW vwSaved AS SELECT * FROM items",
		"CREATE VIEW vwFever2 AS SELECT * FROM items",
		"CREATE VIEW mine AS SELECT id FROM items",
	}
	for _, s := range stmts {
		if _, err := conn.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}

	if err := adoptLegacy(conn); err != nil {
		t.Fatalf("adoptLegacy: %v", err)
	}

	var views []string
	rows, err := conn.Query("SELECT name FROM sqlite_master WHERE type='view' ORDER BY name")
	if err != nil {
		t.Fatalf("list views: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		views = append(views, name)
	}
	if len(views) != 1 || views[0] != "mine" {
		t.Errorf("expected only the unrelated view to remain, got %v", views)
	}

	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if n != 1 {
		t.Errorf("expected legacy rows kept, got %d", n)
	}
}
