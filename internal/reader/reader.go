// Package reader answers navigation requests (groups, feeds, items) over the
// cached views with display-ready rows.
package reader

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/TobiSchelling/feverista/internal/database"
)

const excerptLength = 200

// Row is one display record. Group and feed listing rows leave the item
// fields empty.
type Row struct {
	Favicon          string `json:"favicon"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	CreatedAt        int64  `json:"created_at"`
	CreatedAtDisplay string `json:"created_at_display"`
	Detail           string `json:"detail"`
	Excerpt          string `json:"excerpt"`
	ID               int64  `json:"id"`
	Author           string `json:"author"`
	HTML             string `json:"html"`
	GroupID          int64  `json:"group_id"`
	GroupTitle       string `json:"group_title"`
	FeedID           int64  `json:"feed_id"`
	FeedTitle        string `json:"feed_title"`
	GroupCount       int    `json:"group_count"`
	FeedCount        int    `json:"feed_count"`
	ItemCount        int    `json:"item_count"`
	IsRead           bool   `json:"is_read"`
	IsSaved          bool   `json:"is_saved"`
}

// Listing is a group or feed listing. Header summarizes the whole listing
// and is nil when the view has no rows.
type Listing struct {
	Header *Row  `json:"header"`
	Rows   []Row `json:"rows"`
}

// Section is a run of items sharing a section label.
type Section struct {
	Label string `json:"label"`
	Items []Row  `json:"items"`
}

// Reader reads the logical views.
type Reader struct {
	db *database.DB
}

// New creates a Reader.
func New(db *database.DB) *Reader {
	return &Reader{db: db}
}

// Groups lists the groups present in the session's view, ordered by title.
// The header is "<View> (<item_count>)" and selects every group.
func (r *Reader) Groups(ctx context.Context, s Session) (*Listing, error) {
	rows, err := r.db.ViewGroups(ctx, s.View)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	l := &Listing{Rows: []Row{}}
	if len(rows) == 0 {
		return l, nil
	}
	l.Header = &Row{
		Title:     fmt.Sprintf("%s (%d)", s.View, rows[0].ItemCount),
		GroupID:   database.Any,
		FeedID:    database.Any,
		ItemCount: rows[0].ItemCount,
	}
	l.Rows = lo.Map(rows, func(v database.ViewRow, _ int) Row {
		title := DecodeSymbols(v.GroupTitle)
		return Row{
			Title:      fmt.Sprintf("%s (%d)", title, v.GroupCount),
			GroupID:    v.GroupID,
			GroupTitle: title,
			FeedID:     database.Any,
			GroupCount: v.GroupCount,
			ItemCount:  v.ItemCount,
		}
	})
	return l, nil
}

// Feeds lists the feeds of a group (or of every group, with database.Any)
// in the session's view, ordered by title. The header is
// "<View> Feeds (<group_count>)".
func (r *Reader) Feeds(ctx context.Context, s Session, groupID int64) (*Listing, error) {
	rows, err := r.db.ViewFeeds(ctx, s.View, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	l := &Listing{Rows: []Row{}}
	if len(rows) == 0 {
		return l, nil
	}
	count := rows[0].GroupCount
	if groupID == database.Any {
		count = rows[0].ItemCount
	}
	l.Header = &Row{
		Title:      fmt.Sprintf("%s Feeds (%d)", s.View, count),
		GroupID:    groupID,
		FeedID:     database.Any,
		GroupCount: count,
		ItemCount:  rows[0].ItemCount,
	}
	l.Rows = lo.Map(rows, func(v database.ViewRow, _ int) Row {
		title := DecodeSymbols(v.FeedTitle)
		return Row{
			Favicon:    v.FeedFavicon,
			Title:      fmt.Sprintf("%s (%d)", title, v.FeedCount),
			GroupID:    v.GroupID,
			GroupTitle: DecodeSymbols(v.GroupTitle),
			FeedID:     v.FeedID,
			FeedTitle:  title,
			GroupCount: v.GroupCount,
			FeedCount:  v.FeedCount,
			ItemCount:  v.ItemCount,
		}
	})
	return l, nil
}

// Items returns the items of the session's view, filtered by group and feed
// (database.Any for no restriction) and sorted per the session.
func (r *Reader) Items(ctx context.Context, s Session, groupID, feedID int64) ([]Row, error) {
	rows, err := r.db.ViewItems(ctx, database.ViewQuery{
		View:    s.View,
		GroupID: groupID,
		FeedID:  feedID,
		SortBy:  s.SortBy,
		SortDir: s.SortDir,
	})
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	now := s.now()
	loc := s.location()
	return lo.Map(rows, func(v database.ViewRow, _ int) Row {
		return itemRow(v, now, loc)
	}), nil
}

// Sections splits items into sections keyed by the session's GroupBy, in
// order of first appearance. Date labels are uppercased relative dates.
func Sections(s Session, items []Row) []Section {
	now := s.now()
	var sections []Section
	index := make(map[string]int)
	for _, it := range items {
		var label string
		switch s.GroupBy {
		case GroupByGroup:
			label = it.GroupTitle
		case GroupByFeed:
			label = it.FeedTitle
		default:
			label = strings.ToUpper(PrettyDate(time.Unix(it.CreatedAt, 0), now))
		}
		i, ok := index[label]
		if !ok {
			i = len(sections)
			index[label] = i
			sections = append(sections, Section{Label: label})
		}
		sections[i].Items = append(sections[i].Items, it)
	}
	return sections
}

// Detail renders "<feed> • by <author> • HH:MM". The author part is left out
// for authors of one character or less.
func Detail(feedTitle, author string, created time.Time) string {
	var by string
	if utf8.RuneCountInString(author) > 1 {
		by = " • by " + author
	}
	return feedTitle + by + " • " + created.Format("15:04")
}

func itemRow(v database.ViewRow, now time.Time, loc *time.Location) Row {
	created := time.Unix(v.CreatedOnTime, 0).In(loc)
	feedTitle := DecodeSymbols(v.FeedTitle)
	return Row{
		Favicon:          v.FeedFavicon,
		Title:            DecodeSymbols(v.ItemTitle),
		URL:              v.ItemURL,
		CreatedAt:        v.CreatedOnTime,
		CreatedAtDisplay: PrettyDate(created, now),
		Detail:           Detail(feedTitle, v.ItemAuthor, created),
		Excerpt:          Excerpt(v.ItemHTML, excerptLength),
		ID:               v.ItemID,
		Author:           v.ItemAuthor,
		HTML:             v.ItemHTML,
		GroupID:          v.GroupID,
		GroupTitle:       DecodeSymbols(v.GroupTitle),
		FeedID:           v.FeedID,
		FeedTitle:        feedTitle,
		GroupCount:       v.GroupCount,
		FeedCount:        v.FeedCount,
		ItemCount:        v.ItemCount,
		IsRead:           v.IsRead,
		IsSaved:          v.IsSaved,
	}
}
