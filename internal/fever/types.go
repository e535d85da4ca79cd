package fever

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Int decodes a JSON number, numeric string, boolean or null. Fever servers
// disagree on whether ids and flags are quoted.
type Int int64

func (n *Int) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = 0
		return nil
	case bytes.Equal(data, []byte("true")):
		*n = 1
		return nil
	case bytes.Equal(data, []byte("false")):
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return fmt.Errorf("fever: invalid integer %s", data)
		}
		v = int64(f)
	}
	*n = Int(v)
	return nil
}

// Bool reports whether a 0/1 flag is set.
func (n Int) Bool() bool { return n != 0 }

// Float decodes a JSON number or numeric string.
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*f = 0
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("fever: invalid number %s", data)
	}
	*f = Float(v)
	return nil
}

// IDList is a set of ids sent either as a comma-joined string ("1,2,3"), an
// array, or a single number. Present is false when the key was absent or
// null, so callers can tell "no ids" from "not reported".
type IDList struct {
	IDs     []int64
	Invalid []string
	Present bool
}

func (l *IDList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*l = IDList{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	l.Present = true

	var raw []string
	switch {
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.Split(s, ",")
	case len(data) > 0 && data[0] == '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return err
		}
		raw = lo.Map(elems, func(e json.RawMessage, _ int) string {
			return strings.Trim(string(e), `"`)
		})
	default:
		raw = []string{string(data)}
	}

	for _, p := range lo.Compact(lo.Map(raw, func(p string, _ int) string { return strings.TrimSpace(p) })) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			l.Invalid = append(l.Invalid, p)
			continue
		}
		l.IDs = append(l.IDs, id)
	}
	if len(l.IDs) > 1 {
		l.IDs = lo.Uniq(l.IDs)
	}
	return nil
}

// envelope carries the fields every Fever response includes.
type envelope struct {
	APIVersion Int  `json:"api_version"`
	Auth       *Int `json:"auth"`
}

// authorized is false only when the server explicitly answered auth: 0.
func (e envelope) authorized() bool {
	return e.Auth == nil || *e.Auth != 0
}

type Group struct {
	ID    Int    `json:"id"`
	Title string `json:"title"`
}

type Feed struct {
	ID                Int    `json:"id"`
	FaviconID         Int    `json:"favicon_id"`
	Title             string `json:"title"`
	URL               string `json:"url"`
	SiteURL           string `json:"site_url"`
	IsSpark           Int    `json:"is_spark"`
	LastUpdatedOnTime Int    `json:"last_updated_on_time"`
}

// FeedsGroup lists the feeds belonging to a group.
type FeedsGroup struct {
	GroupID Int    `json:"group_id"`
	FeedIDs IDList `json:"feed_ids"`
}

type Favicon struct {
	ID   Int    `json:"id"`
	Data string `json:"data"`
}

type Item struct {
	ID            Int    `json:"id"`
	FeedID        Int    `json:"feed_id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	HTML          string `json:"html"`
	URL           string `json:"url"`
	IsSaved       Int    `json:"is_saved"`
	IsRead        Int    `json:"is_read"`
	CreatedOnTime Int    `json:"created_on_time"`
}

// Link is a Fever "hot link".
type Link struct {
	ID          Int    `json:"id"`
	FeedID      Int    `json:"feed_id"`
	ItemID      Int    `json:"item_id"`
	Temperature Float  `json:"temperature"`
	IsItem      Int    `json:"is_item"`
	IsLocal     Int    `json:"is_local"`
	IsSaved     Int    `json:"is_saved"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	ItemIDs     string `json:"item_ids"`
}

// Summary is the account state returned by one summary request. Absent
// collections decode as empty.
type Summary struct {
	envelope
	LastRefreshedOnTime *Int         `json:"last_refreshed_on_time"`
	Groups              []Group      `json:"groups"`
	Feeds               []Feed       `json:"feeds"`
	FeedsGroups         []FeedsGroup `json:"feeds_groups"`
	Favicons            []Favicon    `json:"favicons"`
	Links               []Link       `json:"links"`
	SavedItemIDs        IDList       `json:"saved_item_ids"`
	UnreadItemIDs       IDList       `json:"unread_item_ids"`
}

// Watermark returns last_refreshed_on_time.
func (s *Summary) Watermark() int64 {
	if s.LastRefreshedOnTime == nil {
		return 0
	}
	return int64(*s.LastRefreshedOnTime)
}

type itemsPage struct {
	envelope
	TotalItems Int    `json:"total_items"`
	Items      []Item `json:"items"`
}

type markResult struct {
	envelope
}
