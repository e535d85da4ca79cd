package reader

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/feverista/internal/database"
)

// GroupBy selects how item listings are split into sections.
type GroupBy string

const (
	GroupByDate  GroupBy = "date"
	GroupByGroup GroupBy = "group"
	GroupByFeed  GroupBy = "feed"
)

// ParseGroupBy validates a section mode.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case GroupByDate, GroupByGroup, GroupByFeed:
		return g, nil
	}
	return "", fmt.Errorf("unknown group_by %q", s)
}

// Session holds the display settings one caller reads with. It is passed to
// every query instead of living in package state.
type Session struct {
	View    database.ViewType
	GroupBy GroupBy
	SortBy  database.SortKey
	SortDir database.SortDirection
	// ReadURL is prefixed to item urls when they are opened.
	ReadURL string
	// Location renders item times; nil means time.Local.
	Location *time.Location
	// Now is the reference time for relative dates; nil means time.Now.
	Now func() time.Time
}

// DefaultSession reads the Unread view by date, oldest first.
func DefaultSession() Session {
	return Session{
		View:    database.ViewUnread,
		GroupBy: GroupByDate,
		SortBy:  database.SortCreated,
		SortDir: database.Ascending,
	}
}

// ParseSession builds a session from configuration strings.
func ParseSession(view, groupBy, sortBy, sortDir string) (Session, error) {
	var s Session
	var err error
	if s.View, err = database.ParseViewType(view); err != nil {
		return s, err
	}
	if s.GroupBy, err = ParseGroupBy(groupBy); err != nil {
		return s, err
	}
	if s.SortBy, err = database.ParseSortKey(sortBy); err != nil {
		return s, err
	}
	if s.SortDir, err = database.ParseSortDirection(sortDir); err != nil {
		return s, err
	}
	return s, nil
}

// WithView returns a copy of s reading another view.
func (s Session) WithView(v database.ViewType) Session {
	s.View = v
	return s
}

// OpenURL returns the address an item url is opened at.
func (s Session) OpenURL(itemURL string) string {
	return s.ReadURL + itemURL
}

func (s Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Session) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.Local
}
