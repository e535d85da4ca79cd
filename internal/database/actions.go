package database

import (
	"context"
	"fmt"
)

// SetItemRead sets is_read on one item.
func (db *DB) SetItemRead(ctx context.Context, id int64, read bool) error {
	return db.setItemFlag(ctx, "is_read", id, read)
}

// SetItemSaved sets is_saved on one item.
func (db *DB) SetItemSaved(ctx context.Context, id int64, saved bool) error {
	return db.setItemFlag(ctx, "is_saved", id, saved)
}

func (db *DB) setItemFlag(ctx context.Context, column string, id int64, value bool) error {
	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf("UPDATE items SET %s = ? WHERE id = ?", column), value, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkGroupRead marks every unread item of the group's non-spark feeds that
// was created at or before the given unix time. Returns the rows changed.
func (db *DB) MarkGroupRead(ctx context.Context, groupID, before int64) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE items SET is_read = 1
		WHERE is_read = 0 AND created_on_time <= ? AND id IN (
			SELECT i.id FROM items i
			JOIN feeds f ON i.feed_id = f.id
			JOIN feeds_group fg ON f.id = fg.feed_id
			WHERE f.is_spark = 0 AND fg.group_id = ?
		)`, before, groupID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// MarkFeedRead marks every unread item of a feed created at or before the
// given unix time.
func (db *DB) MarkFeedRead(ctx context.Context, feedID, before int64) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		"UPDATE items SET is_read = 1 WHERE is_read = 0 AND feed_id = ? AND created_on_time <= ?",
		feedID, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
