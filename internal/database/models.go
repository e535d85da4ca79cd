package database

// Group is a folder of feeds on the Fever server.
type Group struct {
	ID    int64  `db:"id"`
	Title string `db:"title"`
}

// Feed is a subscribed feed. Spark feeds are excluded from Unread and from
// All Items unless an item is saved.
type Feed struct {
	ID                int64  `db:"id"`
	FaviconID         int64  `db:"favicon_id"`
	Title             string `db:"title"`
	URL               string `db:"url"`
	SiteURL           string `db:"site_url"`
	IsSpark           bool   `db:"is_spark"`
	LastUpdatedOnTime int64  `db:"last_updated_on_time"`
}

// FeedGroup is one group membership of a feed.
type FeedGroup struct {
	GroupID int64 `db:"group_id"`
	FeedID  int64 `db:"feed_id"`
}

// Favicon holds a data URI payload, e.g. "image/png;base64,iVBOR...".
type Favicon struct {
	ID   int64  `db:"id"`
	Data string `db:"data"`
}

// Item is a single feed entry.
type Item struct {
	ID            int64  `db:"id"`
	FeedID        int64  `db:"feed_id"`
	Title         string `db:"title"`
	Author        string `db:"author"`
	HTML          string `db:"html"`
	URL           string `db:"url"`
	IsSaved       bool   `db:"is_saved"`
	IsRead        bool   `db:"is_read"`
	CreatedOnTime int64  `db:"created_on_time"`
}

// Link is a Fever "hot link". Links are stored but no view reads them yet.
type Link struct {
	ID          int64   `db:"id"`
	FeedID      int64   `db:"feed_id"`
	ItemID      int64   `db:"item_id"`
	Temperature float64 `db:"temperature"`
	IsItem      bool    `db:"is_item"`
	IsLocal     bool    `db:"is_local"`
	IsSaved     bool    `db:"is_saved"`
	Title       string  `db:"title"`
	URL         string  `db:"url"`
	ItemIDs     string  `db:"item_ids"`
}

// ViewRow is one row of a logical view, denormalized for display.
type ViewRow struct {
	ViewType      ViewType `db:"view_type"`
	GroupID       int64    `db:"group_id"`
	GroupTitle    string   `db:"group_title"`
	GroupCount    int      `db:"group_count"`
	FeedID        int64    `db:"feed_id"`
	FeedTitle     string   `db:"feed_title"`
	FeedCount     int      `db:"feed_count"`
	FeedFavicon   string   `db:"feed_favicon"`
	ItemID        int64    `db:"item_id"`
	ItemTitle     string   `db:"item_title"`
	ItemAuthor    string   `db:"item_author"`
	ItemHTML      string   `db:"item_html"`
	ItemURL       string   `db:"item_url"`
	ItemCount     int      `db:"item_count"`
	CreatedOnTime int64    `db:"item_created_on_time"`
	MinutesAgo    int64    `db:"item_created_minsago"`
	IsSaved       bool     `db:"item_is_saved"`
	IsRead        bool     `db:"item_is_read"`
}

// ReconcileResult reports how a flag column was brought in line with the
// server's id set.
type ReconcileResult struct {
	Set     int64 // rows flipped to the in-set value
	Cleared int64 // rows flipped away from it
	Unknown int64 // ids the server listed that are not cached locally
}

// Stats contains aggregate database statistics.
type Stats struct {
	Items         int
	Feeds         int
	SparkFeeds    int
	Groups        int
	Favicons      int
	Links         int
	ViewCounts    map[ViewType]int
	LastRefreshed int64
}
