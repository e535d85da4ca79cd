package fetch

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/mmcdole/gofeed"
)

// FeedHealth summarizes what a feed's source URL currently serves.
type FeedHealth struct {
	URL     string
	Title   string
	Entries int
	Latest  time.Time // zero when no entry carries a date
}

// Stale reports whether the newest entry is older than age.
func (h *FeedHealth) Stale(now time.Time, age time.Duration) bool {
	return !h.Latest.IsZero() && now.Sub(h.Latest) > age
}

// Probe downloads feedURL and parses it as RSS, Atom or JSON Feed.
func (f *Fetcher) Probe(ctx context.Context, feedURL string) (*FeedHealth, error) {
	var body bytes.Buffer
	err := requests.URL(feedURL).
		Client(f.client).
		UserAgent(userAgent).
		ToBytesBuffer(&body).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", feedURL, err)
	}

	feed, err := gofeed.NewParser().Parse(&body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", feedURL, err)
	}

	h := &FeedHealth{URL: feedURL, Title: feed.Title, Entries: len(feed.Items)}
	for _, item := range feed.Items {
		var t *time.Time
		if item.PublishedParsed != nil {
			t = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			t = item.UpdatedParsed
		}
		if t != nil && t.After(h.Latest) {
			h.Latest = *t
		}
	}
	return h, nil
}
