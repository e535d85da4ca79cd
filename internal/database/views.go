package database

import (
	"fmt"
	"strings"
)

// ViewType names a logical view.
type ViewType string

const (
	ViewSaved    ViewType = "Saved"
	ViewUnread   ViewType = "Unread"
	ViewAllItems ViewType = "All Items"
	ViewArchive  ViewType = "Archive"
)

// ViewTypes lists the logical views in display order.
var ViewTypes = []ViewType{ViewUnread, ViewSaved, ViewAllItems, ViewArchive}

// ParseViewType accepts a view name case-insensitively. "Archived" and
// "Starred" are accepted as the names older clients used.
func ParseViewType(s string) (ViewType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "saved", "starred":
		return ViewSaved, nil
	case "unread":
		return ViewUnread, nil
	case "all items", "all", "allitems", "all_items":
		return ViewAllItems, nil
	case "archive", "archived":
		return ViewArchive, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// UnifiedView is the union of every logical view tagged with view_type.
const UnifiedView = "vw_fever"

type logicalView struct {
	Type      ViewType
	Name      string
	Predicate string
}

// A feed row that has gone missing counts as not spark.
var logicalViews = []logicalView{
	{Type: ViewSaved, Name: "vw_saved", Predicate: "i.is_saved = 1"},
	{Type: ViewUnread, Name: "vw_unread", Predicate: "i.is_read = 0 AND coalesce(f.is_spark, 0) = 0"},
	{Type: ViewAllItems, Name: "vw_all_items", Predicate: "(i.is_saved = 1 OR coalesce(f.is_spark, 0) = 0)"},
	{Type: ViewArchive, Name: "vw_archive", Predicate: "i.is_read = 1 AND i.is_saved = 0"},
}

// The aggregate counts are window functions over the filtered rows, so they
// are recomputed every time the view is read.
const viewSelect = `SELECT
    '{{view_type}}' AS view_type,
    coalesce(g.id, 0) AS group_id,
    coalesce(g.title, 'No Group') AS group_title,
    count(*) OVER (PARTITION BY coalesce(g.id, 0)) AS group_count,
    coalesce(i.feed_id, 0) AS feed_id,
    coalesce(f.title, '') AS feed_title,
    count(*) OVER (PARTITION BY i.feed_id) AS feed_count,
    coalesce(fav.data, '') AS feed_favicon,
    i.id AS item_id,
    coalesce(i.title, '') AS item_title,
    coalesce(i.author, '') AS item_author,
    coalesce(i.html, '') AS item_html,
    coalesce(i.url, '') AS item_url,
    count(*) OVER () AS item_count,
    coalesce(i.created_on_time, 0) AS item_created_on_time,
    (CAST(strftime('%s', 'now') AS INTEGER) - coalesce(i.created_on_time, 0)) / 60 AS item_created_minsago,
    coalesce(i.is_saved, 0) AS item_is_saved,
    coalesce(i.is_read, 0) AS item_is_read
FROM items i
LEFT OUTER JOIN feeds f ON i.feed_id = f.id
LEFT OUTER JOIN favicons fav ON f.favicon_id = fav.id
LEFT OUTER JOIN feeds_group fg ON f.id = fg.feed_id
LEFT OUTER JOIN groups g ON fg.group_id = g.id
WHERE {{predicate}}`

func (v logicalView) selectSQL() string {
	return strings.NewReplacer(
		"{{view_type}}", string(v.Type),
		"{{predicate}}", v.Predicate,
	).Replace(viewSelect)
}

func unifiedSelectSQL() string {
	parts := make([]string, len(logicalViews))
	for i, v := range logicalViews {
		parts[i] = v.selectSQL()
	}
	return strings.Join(parts, "\nUNION ALL\n")
}

// RebuildViews drops and recreates every derived view in one transaction.
func (db *DB) RebuildViews() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, v := range logicalViews {
		if _, err := tx.Exec(fmt.Sprintf("DROP VIEW IF EXISTS %s", v.Name)); err != nil {
			return fmt.Errorf("dropping view %s: %w", v.Name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("CREATE VIEW %s AS %s\nORDER BY item_created_on_time ASC", v.Name, v.selectSQL())); err != nil {
			return fmt.Errorf("creating view %s: %w", v.Name, err)
		}
	}

	if _, err := tx.Exec("DROP VIEW IF EXISTS " + UnifiedView); err != nil {
		return fmt.Errorf("dropping view %s: %w", UnifiedView, err)
	}
	if _, err := tx.Exec(fmt.Sprintf("CREATE VIEW %s AS %s", UnifiedView, unifiedSelectSQL())); err != nil {
		return fmt.Errorf("creating view %s: %w", UnifiedView, err)
	}

	return tx.Commit()
}

// viewName returns the per-view relation for t.
func viewName(t ViewType) (string, error) {
	for _, v := range logicalViews {
		if v.Type == t {
			return v.Name, nil
		}
	}
	return "", fmt.Errorf("unknown view %q", t)
}
