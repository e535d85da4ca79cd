package actions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/feverista/internal/database"
	"github.com/TobiSchelling/feverista/internal/fever"
)

type recorder struct {
	mu    sync.Mutex
	forms []map[string]string
	fail  bool
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.fail {
		http.Error(w, "down", http.StatusBadGateway)
		return
	}
	r.ParseForm()
	f := map[string]string{}
	for k := range r.PostForm {
		f[k] = r.PostForm.Get(k)
	}
	rec.forms = append(rec.forms, f)
	w.Write([]byte(`{"api_version": 3, "auth": 1}`))
}

func setup(t *testing.T) (*Relay, *database.DB, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	db, err := database.Open(filepath.Join(t.TempDir(), "fever.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.ReplaceFeeds(ctx, []database.Feed{{ID: 10, Title: "a"}, {ID: 11, Title: "spark", IsSpark: true}}))
	require.NoError(t, db.ReplaceFeedGroups(ctx, []database.FeedGroup{{GroupID: 1, FeedID: 10}, {GroupID: 1, FeedID: 11}}))
	_, err = db.InsertItems(ctx, []database.Item{
		{ID: 1, FeedID: 10, CreatedOnTime: 100},
		{ID: 2, FeedID: 10, CreatedOnTime: 900},
		{ID: 3, FeedID: 11, CreatedOnTime: 100},
	})
	require.NoError(t, err)

	client := fever.NewClient(srv.URL, "key", fever.WithRetries(0, time.Millisecond))
	r := New(db, client)
	r.now = func() time.Time { return time.Unix(500, 0) }
	return r, db, rec
}

func TestMarkItemRead(t *testing.T) {
	r, db, rec := setup(t)
	ctx := context.Background()

	require.NoError(t, r.MarkItemRead(ctx, 1))
	it, err := db.ItemByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, it.IsRead)
	require.Len(t, rec.forms, 1)
	assert.Equal(t, "item", rec.forms[0]["mark"])
	assert.Equal(t, "read", rec.forms[0]["as"])
	assert.Equal(t, "1", rec.forms[0]["id"])
	assert.NotContains(t, rec.forms[0], "before")

	require.NoError(t, r.MarkItemUnread(ctx, 1))
	it, _ = db.ItemByID(ctx, 1)
	assert.False(t, it.IsRead)
	assert.Equal(t, "unread", rec.forms[1]["as"])
}

func TestMarkItemSaved(t *testing.T) {
	r, db, rec := setup(t)
	ctx := context.Background()

	require.NoError(t, r.MarkItemSaved(ctx, 2))
	it, _ := db.ItemByID(ctx, 2)
	assert.True(t, it.IsSaved)

	require.NoError(t, r.MarkItemUnsaved(ctx, 2))
	it, _ = db.ItemByID(ctx, 2)
	assert.False(t, it.IsSaved)
	assert.Equal(t, []string{"saved", "unsaved"}, []string{rec.forms[0]["as"], rec.forms[1]["as"]})
}

func TestUnknownItemIsNotForwarded(t *testing.T) {
	r, _, rec := setup(t)
	err := r.MarkItemRead(context.Background(), 99)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, rec.forms)
}

func TestRemoteFailureKeepsLocalChange(t *testing.T) {
	r, db, rec := setup(t)
	rec.fail = true
	ctx := context.Background()

	err := r.MarkItemRead(ctx, 1)
	assert.ErrorIs(t, err, ErrRemoteWrite)
	assert.ErrorIs(t, err, fever.ErrNetwork)

	it, err := db.ItemByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, it.IsRead)
}

func TestMarkGroupReadBeforeNow(t *testing.T) {
	r, db, rec := setup(t)
	ctx := context.Background()

	n, err := r.MarkGroupRead(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, "group", rec.forms[0]["mark"])
	assert.Equal(t, "500", rec.forms[0]["before"])

	for id, want := range map[int64]bool{1: true, 2: false, 3: false} {
		it, _ := db.ItemByID(ctx, id)
		assert.Equal(t, want, it.IsRead, "item %d", id)
	}
}

func TestMarkGroupReadUsesWatermark(t *testing.T) {
	r, db, rec := setup(t)
	ctx := context.Background()
	require.NoError(t, db.SetLastRefreshed(ctx, 1000))

	n, err := r.MarkGroupRead(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, "1000", rec.forms[0]["before"])
}

func TestMarkGroupReadRejectsNoGroup(t *testing.T) {
	r, _, rec := setup(t)
	_, err := r.MarkGroupRead(context.Background(), 0)
	assert.ErrorIs(t, err, ErrUngroupedScope)
	assert.Empty(t, rec.forms)
}

func TestMarkFeedRead(t *testing.T) {
	r, _, rec := setup(t)
	n, err := r.MarkFeedRead(context.Background(), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, "feed", rec.forms[0]["mark"])
	assert.Equal(t, "10", rec.forms[0]["id"])
}
