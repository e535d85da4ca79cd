package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/feverista/internal/actions"
	"github.com/TobiSchelling/feverista/internal/database"
	"github.com/TobiSchelling/feverista/internal/fever"
	"github.com/TobiSchelling/feverista/internal/reader"
	"github.com/TobiSchelling/feverista/internal/syncer"
)

type fakeSyncer struct {
	calls int
	err   error
}

func (f *fakeSyncer) SyncAll(context.Context) (*syncer.Result, error) {
	f.calls++
	res := &syncer.Result{SyncID: "sync-1", Stages: []syncer.StageResult{{Name: syncer.StageSummary}}}
	return res, f.err
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setup(t *testing.T, feverUp bool) (*Server, *database.DB, *fakeSyncer) {
	t.Helper()
	fv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !feverUp {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"api_version": 3, "auth": 1}`))
	}))
	t.Cleanup(fv.Close)

	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ReplaceGroups(ctx, []database.Group{{ID: 1, Title: "Tech"}}))
	require.NoError(t, db.ReplaceFeeds(ctx, []database.Feed{{ID: 10, FaviconID: 100, Title: "Go Blog"}}))
	require.NoError(t, db.ReplaceFeedGroups(ctx, []database.FeedGroup{{GroupID: 1, FeedID: 10}}))
	require.NoError(t, db.ReplaceFavicons(ctx, []database.Favicon{
		{ID: 100, Data: "image/gif;base64,R0lGODlhAQABAAAAACw="},
		{ID: 101, Data: "not-an-image"},
	}))
	_, err := db.InsertItems(ctx, []database.Item{
		{ID: 1, FeedID: 10, Title: "One", URL: "https://go.dev/1", CreatedOnTime: time.Now().Unix() - 60},
		{ID: 2, FeedID: 10, Title: "Two", URL: "https://go.dev/2", CreatedOnTime: time.Now().Unix() - 30},
	})
	require.NoError(t, err)

	client := fever.NewClient(fv.URL, "key", fever.WithRetries(0, time.Millisecond))
	sync := &fakeSyncer{}
	sess := reader.DefaultSession()
	sess.ReadURL = "https://r.example/?u="
	srv, err := New(db, actions.New(db, client), sync, sess)
	require.NoError(t, err)
	return srv, db, sync
}

func do(t *testing.T, srv *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestGroupsRoute(t *testing.T) {
	srv, _, _ := setup(t, true)
	rec, body := do(t, srv, "GET", "/api/groups")
	require.Equal(t, http.StatusOK, rec.Code)

	header := body["header"].(map[string]any)
	assert.Equal(t, "Unread (2)", header["title"])
	rows := body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Tech (2)", rows[0].(map[string]any)["title"])
}

func TestGroupsRouteRejectsBadView(t *testing.T) {
	srv, _, _ := setup(t, true)
	rec, _ := do(t, srv, "GET", "/api/groups?view=Spark")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNegativeScopeRejected(t *testing.T) {
	srv, _, _ := setup(t, true)
	for _, path := range []string{"/api/feeds?group_id=-1", "/api/items?feed_id=-1", "/api/items?group_id=-5"} {
		rec, body := do(t, srv, "GET", path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, body["error"], "invalid", path)
	}

	rec, body := do(t, srv, "GET", "/api/items?group_id=%25")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestFeedsRoute(t *testing.T) {
	srv, _, _ := setup(t, true)
	rec, body := do(t, srv, "GET", "/api/feeds?group_id=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Unread Feeds (2)", body["header"].(map[string]any)["title"])
}

func TestItemsRoute(t *testing.T) {
	srv, _, _ := setup(t, true)
	rec, body := do(t, srv, "GET", "/api/items?feed_id=10&sort_direction=DESC&group_by=feed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	sections := body["sections"].([]any)
	require.Len(t, sections, 1)
	sec := sections[0].(map[string]any)
	assert.Equal(t, "Go Blog", sec["label"])
	items := sec["items"].([]any)
	first := items[0].(map[string]any)
	assert.EqualValues(t, 2, first["id"])
	assert.Equal(t, "https://r.example/?u=https://go.dev/2", first["url"])
}

func TestItemActions(t *testing.T) {
	srv, db, _ := setup(t, true)
	ctx := context.Background()

	rec, body := do(t, srv, "POST", "/api/items/1/read")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	it, _ := db.ItemByID(ctx, 1)
	assert.True(t, it.IsRead)

	rec, _ = do(t, srv, "POST", "/api/items/1/saved")
	require.Equal(t, http.StatusOK, rec.Code)
	it, _ = db.ItemByID(ctx, 1)
	assert.True(t, it.IsSaved)

	rec, _ = do(t, srv, "POST", "/api/items/1/archive")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, srv, "POST", "/api/items/99/read")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestItemActionRemoteFailure(t *testing.T) {
	srv, db, _ := setup(t, false)
	rec, body := do(t, srv, "POST", "/api/items/2/read")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", body["status"])

	it, _ := db.ItemByID(context.Background(), 2)
	assert.True(t, it.IsRead)
}

func TestGroupAndFeedRead(t *testing.T) {
	srv, _, _ := setup(t, true)

	rec, body := do(t, srv, "POST", "/api/groups/1/read")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["marked"])

	rec, _ = do(t, srv, "POST", "/api/groups/0/read")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, srv, "POST", "/api/feeds/10/read")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["marked"])
}

func TestSyncRoute(t *testing.T) {
	srv, _, sync := setup(t, true)
	rec, body := do(t, srv, "POST", "/api/sync")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sync-1", body["sync_id"])
	assert.Equal(t, 1, sync.calls)

	sync.err = &syncer.StageError{Stage: syncer.StageBackfill, Err: syncer.ErrPaginationStall}
	rec, body = do(t, srv, "POST", "/api/sync")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "backfill", body["failed_stage"])

	sync.err = syncer.ErrSyncInProgress
	rec, _ = do(t, srv, "POST", "/api/sync")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFaviconRoute(t *testing.T) {
	srv, _, _ := setup(t, true)

	rec, _ := do(t, srv, "GET", "/favicons/100")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, "GIF89a", rec.Body.String()[:6])
	assert.True(t, srv.favicons.Contains(100))

	rec, _ = do(t, srv, "GET", "/favicons/101")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = do(t, srv, "GET", "/favicons/5")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecodeFavicon(t *testing.T) {
	f, err := decodeFavicon("data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.contentType)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), f.data)
}
