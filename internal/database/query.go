package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Any matches every group or feed id in a ViewQuery.
const Any int64 = -1

// SortKey is a column items can be ordered by.
type SortKey string

const (
	SortCreated    SortKey = "item_created_on_time"
	SortFeed       SortKey = "feed_id"
	SortMinutesAgo SortKey = "item_created_minsago"
)

// ParseSortKey validates a sort key name.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortCreated, SortFeed, SortMinutesAgo:
		return k, nil
	case "created", "date":
		return SortCreated, nil
	case "feed":
		return SortFeed, nil
	case "minsago", "age":
		return SortMinutesAgo, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// SortDirection is ASC or DESC.
type SortDirection string

const (
	Ascending  SortDirection = "ASC"
	Descending SortDirection = "DESC"
)

// ParseSortDirection validates a sort direction.
func ParseSortDirection(s string) (SortDirection, error) {
	switch SortDirection(strings.ToUpper(strings.TrimSpace(s))) {
	case Ascending:
		return Ascending, nil
	case Descending:
		return Descending, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// ViewQuery selects item rows from a logical view.
type ViewQuery struct {
	View    ViewType
	GroupID int64 // Any for no restriction
	FeedID  int64 // Any for no restriction
	SortBy  SortKey
	SortDir SortDirection
}

var viewColumns = []string{
	"view_type", "group_id", "group_title", "group_count",
	"feed_id", "feed_title", "feed_count", "feed_favicon",
	"item_id", "item_title", "item_author", "item_html", "item_url", "item_count",
	"item_created_on_time", "item_created_minsago", "item_is_saved", "item_is_read",
}

func viewBase(view ViewType) (sq.SelectBuilder, error) {
	if _, err := viewName(view); err != nil {
		return sq.SelectBuilder{}, err
	}
	return sq.Select(viewColumns...).From(UnifiedView).Where(sq.Eq{"view_type": string(view)}), nil
}

func (db *DB) selectRows(ctx context.Context, q sq.SelectBuilder) ([]ViewRow, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("constructing sql: %w", err)
	}
	var rows []ViewRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ViewItems returns the item rows of a view matching the query's filters.
func (db *DB) ViewItems(ctx context.Context, vq ViewQuery) ([]ViewRow, error) {
	q, err := viewBase(vq.View)
	if err != nil {
		return nil, err
	}
	if vq.GroupID != Any {
		q = q.Where(sq.Eq{"group_id": vq.GroupID})
	}
	if vq.FeedID != Any {
		q = q.Where(sq.Eq{"feed_id": vq.FeedID})
	}

	sortBy := vq.SortBy
	if sortBy == "" {
		sortBy = SortCreated
	}
	if _, err := ParseSortKey(string(sortBy)); err != nil {
		return nil, err
	}
	dir := vq.SortDir
	if dir == "" {
		dir = Ascending
	}
	if _, err := ParseSortDirection(string(dir)); err != nil {
		return nil, err
	}
	q = q.OrderBy(fmt.Sprintf("%s %s", sortBy, dir), fmt.Sprintf("item_id %s", dir))

	return db.selectRows(ctx, q)
}

// ViewGroups returns one row per group present in a view, ordered by title.
func (db *DB) ViewGroups(ctx context.Context, view ViewType) ([]ViewRow, error) {
	q, err := viewBase(view)
	if err != nil {
		return nil, err
	}
	q = q.GroupBy("group_id").OrderBy("group_title", "group_id")
	return db.selectRows(ctx, q)
}

// ViewFeeds returns one row per feed present in a view, ordered by title.
// groupID may be Any.
func (db *DB) ViewFeeds(ctx context.Context, view ViewType, groupID int64) ([]ViewRow, error) {
	q, err := viewBase(view)
	if err != nil {
		return nil, err
	}
	if groupID != Any {
		q = q.Where(sq.Eq{"group_id": groupID})
	}
	q = q.GroupBy("feed_id").OrderBy("feed_title", "feed_id")
	return db.selectRows(ctx, q)
}

// LogicalViewItems reads a single per-view relation directly.
func (db *DB) LogicalViewItems(ctx context.Context, view ViewType) ([]ViewRow, error) {
	name, err := viewName(view)
	if err != nil {
		return nil, err
	}
	return db.selectRows(ctx, sq.Select(viewColumns...).From(name))
}

// ItemByID returns a cached item.
func (db *DB) ItemByID(ctx context.Context, id int64) (*Item, error) {
	var it Item
	err := db.conn.GetContext(ctx, &it,
		`SELECT id, coalesce(feed_id, 0) AS feed_id, coalesce(title, '') AS title,
		coalesce(author, '') AS author, coalesce(html, '') AS html, coalesce(url, '') AS url,
		coalesce(is_saved, 0) AS is_saved, coalesce(is_read, 0) AS is_read,
		coalesce(created_on_time, 0) AS created_on_time
		FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// FaviconByID returns a cached favicon.
func (db *DB) FaviconByID(ctx context.Context, id int64) (*Favicon, error) {
	var f Favicon
	err := db.conn.GetContext(ctx, &f, "SELECT id, data FROM favicons WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("favicon %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Feeds returns every cached feed ordered by title.
func (db *DB) Feeds(ctx context.Context) ([]Feed, error) {
	var feeds []Feed
	err := db.conn.SelectContext(ctx, &feeds,
		`SELECT id, coalesce(favicon_id, 0) AS favicon_id, coalesce(title, '') AS title,
		coalesce(url, '') AS url, coalesce(site_url, '') AS site_url,
		coalesce(is_spark, 0) AS is_spark, coalesce(last_updated_on_time, 0) AS last_updated_on_time
		FROM feeds ORDER BY title COLLATE NOCASE, id`)
	if err != nil {
		return nil, err
	}
	return feeds, nil
}

// GetStats returns aggregate counts over the cache.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{ViewCounts: make(map[ViewType]int)}

	counts := []struct {
		dst   *int
		query string
	}{
		{&s.Items, "SELECT COUNT(*) FROM items"},
		{&s.Feeds, "SELECT COUNT(*) FROM feeds"},
		{&s.SparkFeeds, "SELECT COUNT(*) FROM feeds WHERE is_spark = 1"},
		{&s.Groups, "SELECT COUNT(*) FROM groups"},
		{&s.Favicons, "SELECT COUNT(*) FROM favicons"},
		{&s.Links, "SELECT COUNT(*) FROM links"},
	}
	for _, c := range counts {
		if err := db.conn.GetContext(ctx, c.dst, c.query); err != nil {
			return nil, err
		}
	}

	var perView []struct {
		ViewType ViewType `db:"view_type"`
		Count    int      `db:"n"`
	}
	if err := db.conn.SelectContext(ctx, &perView,
		"SELECT view_type, COUNT(DISTINCT item_id) AS n FROM "+UnifiedView+" GROUP BY view_type"); err != nil {
		return nil, err
	}
	for _, v := range perView {
		s.ViewCounts[v.ViewType] = v.Count
	}

	ts, _, err := db.LastRefreshed(ctx)
	if err != nil {
		return nil, err
	}
	s.LastRefreshed = ts
	return s, nil
}
