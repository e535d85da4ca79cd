package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetLastRefreshed replaces the singleton refresh watermark.
func (db *DB) SetLastRefreshed(ctx context.Context, ts int64) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM last_refreshed_on_time"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO last_refreshed_on_time VALUES (?)", ts); err != nil {
		return err
	}
	return tx.Commit()
}

// LastRefreshed returns the stored watermark. ok is false before the first sync.
func (db *DB) LastRefreshed(ctx context.Context) (ts int64, ok bool, err error) {
	err = db.conn.GetContext(ctx, &ts, "SELECT last_refreshed_on_time FROM last_refreshed_on_time LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

// PurgeExpired deletes read, unsaved items whose age in whole minutes has
// reached the retention window.
func (db *DB) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM items
		WHERE is_saved = 0 AND is_read = 1 AND (? - created_on_time) / 60 >= ?`,
		now.Unix(), int64(retention/time.Minute),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// MaxItemID returns the highest cached item id, or 0 for an empty cache.
func (db *DB) MaxItemID(ctx context.Context) (int64, error) {
	var id int64
	if err := db.conn.GetContext(ctx, &id, "SELECT coalesce(max(id), 0) FROM items"); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertItems inserts items that are not cached yet. Existing ids are left
// untouched. Returns the number of rows inserted.
func (db *DB) InsertItems(ctx context.Context, items []Item) (int64, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx,
		`INSERT OR IGNORE INTO items
		(id, feed_id, title, author, html, url, is_saved, is_read, created_on_time)
		VALUES (:id, :feed_id, :title, :author, :html, :url, :is_saved, :is_read, :created_on_time)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, it := range items {
		result, err := stmt.ExecContext(ctx, it)
		if err != nil {
			return 0, fmt.Errorf("inserting item %d: %w", it.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}
	return inserted, tx.Commit()
}

// ReplaceGroups replaces every group.
func (db *DB) ReplaceGroups(ctx context.Context, groups []Group) error {
	return replaceAll(ctx, db, "groups",
		"INSERT INTO groups (id, title) VALUES (:id, :title)", groups)
}

// ReplaceFeeds replaces every feed.
func (db *DB) ReplaceFeeds(ctx context.Context, feeds []Feed) error {
	return replaceAll(ctx, db, "feeds",
		`INSERT INTO feeds (id, favicon_id, title, url, site_url, is_spark, last_updated_on_time)
		VALUES (:id, :favicon_id, :title, :url, :site_url, :is_spark, :last_updated_on_time)`, feeds)
}

// ReplaceFeedGroups replaces every group membership.
func (db *DB) ReplaceFeedGroups(ctx context.Context, memberships []FeedGroup) error {
	return replaceAll(ctx, db, "feeds_group",
		"INSERT INTO feeds_group (group_id, feed_id) VALUES (:group_id, :feed_id)", memberships)
}

// ReplaceFavicons replaces every favicon.
func (db *DB) ReplaceFavicons(ctx context.Context, favicons []Favicon) error {
	return replaceAll(ctx, db, "favicons",
		"INSERT INTO favicons (id, data) VALUES (:id, :data)", favicons)
}

// ReplaceLinks replaces every hot link.
func (db *DB) ReplaceLinks(ctx context.Context, links []Link) error {
	return replaceAll(ctx, db, "links",
		`INSERT INTO links (id, feed_id, item_id, temperature, is_item, is_local, is_saved, title, url, item_ids)
		VALUES (:id, :feed_id, :item_id, :temperature, :is_item, :is_local, :is_saved, :title, :url, :item_ids)`, links)
}

// replaceAll empties table and inserts rows inside one transaction, so a
// failure leaves the previous contents in place.
func replaceAll[T any](ctx context.Context, db *DB, table, insert string, rows []T) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("inserting into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ReconcileRead aligns items.is_read with the server's unread id set: listed
// ids become unread, every other cached item becomes read.
func (db *DB) ReconcileRead(ctx context.Context, unreadIDs []int64) (ReconcileResult, error) {
	return db.reconcileFlag(ctx, "is_read", unreadIDs, false)
}

// ReconcileSaved aligns items.is_saved with the server's saved id set.
func (db *DB) ReconcileSaved(ctx context.Context, savedIDs []int64) (ReconcileResult, error) {
	return db.reconcileFlag(ctx, "is_saved", savedIDs, true)
}

// reconcileFlag sets column to inSet for ids in the set and to !inSet for
// all other items. Only rows whose value actually changes are touched.
// column is always one of the two constants above.
func (db *DB) reconcileFlag(ctx context.Context, column string, ids []int64, inSet bool) (ReconcileResult, error) {
	var r ReconcileResult
	in, out := 0, 1
	if inSet {
		in, out = 1, 0
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return r, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE IF NOT EXISTS reconcile_ids (id INTEGER PRIMARY KEY)"); err != nil {
		return r, fmt.Errorf("creating id set: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM reconcile_ids"); err != nil {
		return r, fmt.Errorf("clearing id set: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO reconcile_ids (id) VALUES (?)")
	if err != nil {
		return r, err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return r, fmt.Errorf("loading id set: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE items SET %[1]s = ? WHERE coalesce(%[1]s, -1) != ? AND id IN (SELECT id FROM reconcile_ids)", column),
		in, in)
	if err != nil {
		return r, fmt.Errorf("setting %s: %w", column, err)
	}
	if r.Set, err = res.RowsAffected(); err != nil {
		return r, err
	}

	res, err = tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE items SET %[1]s = ? WHERE coalesce(%[1]s, -1) != ? AND id NOT IN (SELECT id FROM reconcile_ids)", column),
		out, out)
	if err != nil {
		return r, fmt.Errorf("clearing %s: %w", column, err)
	}
	if r.Cleared, err = res.RowsAffected(); err != nil {
		return r, err
	}

	if err := tx.GetContext(ctx, &r.Unknown,
		"SELECT count(*) FROM reconcile_ids WHERE id NOT IN (SELECT id FROM items)"); err != nil {
		return r, fmt.Errorf("counting unknown ids: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM reconcile_ids"); err != nil {
		return r, err
	}
	return r, tx.Commit()
}
