package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/feverista/internal/database"
	"github.com/TobiSchelling/feverista/internal/fever"
)

var testNow = time.Unix(1_700_000_000, 0)

// fakeFever serves a summary and pages items by since_id from a fixed list.
type fakeFever struct {
	mu       sync.Mutex
	summary  string
	items    []string // JSON objects ordered by id
	ids      []int64
	pageSize int
	// stall makes every items request return the first page.
	stall    bool
	failOn   string
	sinceIDs []int64
}

func (f *fakeFever) addItem(id, feedID int64, read, saved bool, created int64) {
	f.ids = append(f.ids, id)
	f.items = append(f.items, fmt.Sprintf(
		`{"id": %d, "feed_id": %d, "title": "item %d", "author": "a", "html": "<p>%d</p>", "url": "https://example.com/%d", "is_saved": %d, "is_read": %d, "created_on_time": %d}`,
		id, feedID, id, id, id, b2i(saved), b2i(read), created))
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (f *fakeFever) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := r.URL.Query()

	if q.Has("items") {
		if f.failOn == "items" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		since, _ := strconv.ParseInt(q.Get("since_id"), 10, 64)
		f.sinceIDs = append(f.sinceIDs, since)
		var page []string
		for i, id := range f.ids {
			if (f.stall || id > since) && len(page) < f.pageSize {
				page = append(page, f.items[i])
			}
		}
		fmt.Fprintf(w, `{"api_version": 3, "auth": 1, "items": [%s]}`, strings.Join(page, ","))
		return
	}
	if f.failOn == "summary" {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Write([]byte(f.summary))
}

const baseSummary = `{
	"api_version": 3,
	"auth": 1,
	"last_refreshed_on_time": 1700000000,
	"groups": [{"id": 1, "title": "Tech"}, {"id": 2, "title": "News"}],
	"feeds": [
		{"id": 10, "favicon_id": 100, "title": "Go Blog", "is_spark": 0},
		{"id": 11, "favicon_id": 100, "title": "Daily", "is_spark": 0},
		{"id": 12, "favicon_id": 0, "title": "Sparky", "is_spark": 1}
	],
	"feeds_groups": [{"group_id": 1, "feed_ids": "10"}, {"group_id": 2, "feed_ids": "11,bogus"}],
	"favicons": [{"id": 100, "data": "image/png;base64,AAAA"}],
	"links": [{"id": 1, "feed_id": 10, "item_id": 1, "temperature": 3.5, "is_item": 1, "is_local": 1, "is_saved": 0, "title": "hot", "url": "https://x", "item_ids": "1"}],
	"unread_item_ids": "%s",
	"saved_item_ids": "%s"
}`

func setup(t *testing.T, f *fakeFever) (*Engine, *database.DB) {
	t.Helper()
	if f.pageSize == 0 {
		f.pageSize = 2
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	db, err := database.Open(filepath.Join(t.TempDir(), "fever.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := fever.NewClient(srv.URL+"/?api", "key", fever.WithRetries(0, time.Millisecond))
	return New(db, client, WithClock(func() time.Time { return testNow })), db
}

func stageNames(r *Result) []string {
	var names []string
	for _, s := range r.Stages {
		names = append(names, s.Name)
	}
	return names
}

func TestSyncAll(t *testing.T) {
	f := &fakeFever{summary: fmt.Sprintf(baseSummary, "1,2", "3")}
	f.addItem(1, 10, false, false, 1_699_999_000)
	f.addItem(2, 11, false, false, 1_699_999_100)
	f.addItem(3, 10, true, false, 1_699_999_200)
	f.addItem(4, 12, false, false, 1_699_999_300)
	f.addItem(5, 11, false, false, 1_699_999_400)
	e, db := setup(t, f)
	ctx := context.Background()

	res, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SyncID)
	assert.EqualValues(t, 5, res.Inserted)
	assert.EqualValues(t, 1_700_000_000, res.Watermark)
	assert.Equal(t, []string{
		StageSummary, StageWatermark, StagePurge, StageBackfill,
		StageGroups, StageFeeds, StageFeedGroups, StageFavicons, StageLinks,
		StageRead, StageSaved, StageViews,
	}, stageNames(res))

	// Backfill walked the pages by max id and stopped on an empty page.
	assert.Equal(t, []int64{0, 2, 4, 5}, f.sinceIDs)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Items)
	assert.Equal(t, 3, stats.Feeds)
	assert.Equal(t, 2, stats.Groups)
	assert.Equal(t, 1, stats.Favicons)
	assert.Equal(t, 1, stats.Links)
	assert.EqualValues(t, 1_700_000_000, stats.LastRefreshed)

	// Unread set {1,2}: everything else is read. Saved set {3}.
	for id, want := range map[int64][2]bool{
		1: {false, false}, 2: {false, false}, 3: {true, true}, 4: {true, false}, 5: {true, false},
	} {
		it, err := db.ItemByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want[0], it.IsRead, "item %d read", id)
		assert.Equal(t, want[1], it.IsSaved, "item %d saved", id)
	}

	rows, err := db.ViewItems(ctx, database.ViewQuery{View: database.ViewUnread, GroupID: database.Any, FeedID: database.Any})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Tech", rows[0].GroupTitle)
	assert.Equal(t, "News", rows[1].GroupTitle)
}

func TestSyncAllIsIdempotent(t *testing.T) {
	f := &fakeFever{summary: fmt.Sprintf(baseSummary, "1,2,3", "")}
	f.addItem(1, 10, false, false, 1_699_999_000)
	f.addItem(2, 10, false, false, 1_699_999_000)
	f.addItem(3, 11, false, false, 1_699_999_000)
	e, db := setup(t, f)
	ctx := context.Background()

	_, err := e.SyncAll(ctx)
	require.NoError(t, err)
	before, err := db.GetStats(ctx)
	require.NoError(t, err)

	res, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Inserted)

	after, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, before.ViewCounts, after.ViewCounts)
}

func TestPaginationStall(t *testing.T) {
	f := &fakeFever{summary: fmt.Sprintf(baseSummary, "", ""), stall: true}
	f.addItem(1, 10, false, false, 1_699_999_000)
	f.addItem(2, 10, false, false, 1_699_999_000)
	e, _ := setup(t, f)

	done := make(chan struct{})
	var res *Result
	var err error
	go func() {
		res, err = e.SyncAll(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not terminate on a stalled backfill")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaginationStall)
	assert.ErrorIs(t, err, ErrSyncFailed)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageBackfill, se.Stage)
	assert.Equal(t, []string{StageSummary, StageWatermark, StagePurge}, stageNames(res))
	assert.Equal(t, []int64{0, 2}, f.sinceIDs)
}

func TestSummaryFailureLeavesCacheUntouched(t *testing.T) {
	f := &fakeFever{summary: fmt.Sprintf(baseSummary, "1", "")}
	f.addItem(1, 10, false, false, 1_699_999_000)
	e, db := setup(t, f)
	ctx := context.Background()

	_, err := e.SyncAll(ctx)
	require.NoError(t, err)

	f.failOn = "summary"
	res, err := e.SyncAll(ctx)
	assert.ErrorIs(t, err, fever.ErrNetwork)
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.Empty(t, res.Stages)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Items)
	assert.Equal(t, 2, stats.Groups)
}

func TestItemsFailureAbortsBeforeReplace(t *testing.T) {
	f := &fakeFever{summary: fmt.Sprintf(baseSummary, "", ""), failOn: "items"}
	e, db := setup(t, f)

	res, err := e.SyncAll(context.Background())
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageBackfill, se.Stage)
	assert.Len(t, res.Stages, 3)

	stats, err := db.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Groups)
	// The watermark stage committed before the failure.
	assert.EqualValues(t, 1_700_000_000, stats.LastRefreshed)
}

func TestMissingWatermarkFails(t *testing.T) {
	f := &fakeFever{summary: `{"api_version": 3, "auth": 1, "groups": []}`}
	e, _ := setup(t, f)

	_, err := e.SyncAll(context.Background())
	assert.ErrorIs(t, err, fever.ErrMissingWatermark)
}

func TestAbsentIDSetsAreNotReconciled(t *testing.T) {
	f := &fakeFever{summary: `{"api_version": 3, "auth": 1, "last_refreshed_on_time": 1700000000}`}
	f.addItem(1, 10, false, true, 1_699_999_000)
	e, db := setup(t, f)
	ctx := context.Background()

	res, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "skipped, not reported", res.Stages[9].Summary)

	it, err := db.ItemByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, it.IsRead)
	assert.True(t, it.IsSaved)
}

func TestPurgeRunsBeforeBackfill(t *testing.T) {
	old := testNow.Unix() - 5000*60
	f := &fakeFever{summary: fmt.Sprintf(baseSummary, "", "")}
	f.addItem(1, 10, true, false, old)
	e, db := setup(t, f)
	ctx := context.Background()

	_, err := e.SyncAll(ctx)
	require.NoError(t, err)
	_, err = db.ItemByID(ctx, 1)
	require.NoError(t, err, "freshly backfilled item must survive its first sync")

	res, err := e.SyncAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Purged)
}

func TestConcurrentSyncRejected(t *testing.T) {
	f := &fakeFever{summary: fmt.Sprintf(baseSummary, "", "")}
	e, _ := setup(t, f)

	e.mu.Lock()
	_, err := e.SyncAll(context.Background())
	e.mu.Unlock()
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestCancelledContext(t *testing.T) {
	f := &fakeFever{summary: fmt.Sprintf(baseSummary, "", "")}
	e, _ := setup(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.SyncAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrSyncFailed)
}

func TestToFeedGroupsSkipsInvalid(t *testing.T) {
	groups := []fever.FeedsGroup{
		{GroupID: 1, FeedIDs: fever.IDList{IDs: []int64{10, 11}, Present: true}},
		{GroupID: 2, FeedIDs: fever.IDList{IDs: []int64{12}, Invalid: []string{"x"}, Present: true}},
	}
	memberships, invalid := toFeedGroups(groups)
	assert.Equal(t, []database.FeedGroup{
		{GroupID: 1, FeedID: 10}, {GroupID: 1, FeedID: 11}, {GroupID: 2, FeedID: 12},
	}, memberships)
	assert.Equal(t, []string{"x"}, invalid)
}
