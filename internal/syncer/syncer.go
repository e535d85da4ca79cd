// Package syncer mirrors a Fever account into the local cache.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/feverista/internal/database"
	"github.com/TobiSchelling/feverista/internal/fever"
	"github.com/TobiSchelling/feverista/internal/logger"
)

var (
	// ErrSyncFailed matches every error returned by SyncAll after a stage started.
	ErrSyncFailed = errors.New("sync failed, last known state preserved")
	// ErrPaginationStall is returned when a backfill page does not advance the max item id.
	ErrPaginationStall = errors.New("item backfill made no progress")
	// ErrSyncInProgress is returned when SyncAll is called while another run is active.
	ErrSyncInProgress = errors.New("a sync is already running")
)

// Stage names, in execution order.
const (
	StageSummary    = "summary"
	StageWatermark  = "watermark"
	StagePurge      = "purge"
	StageBackfill   = "backfill"
	StageGroups     = "groups"
	StageFeeds      = "feeds"
	StageFeedGroups = "feeds_group"
	StageFavicons   = "favicons"
	StageLinks      = "links"
	StageRead       = "read"
	StageSaved      = "saved"
	StageViews      = "views"
)

// StageError reports the stage a sync stopped at. Stages listed in the
// accompanying Result completed and were committed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("sync failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{ErrSyncFailed, e.Err}
}

// Remote is the part of the Fever API a sync reads from.
type Remote interface {
	Summary(ctx context.Context) (*fever.Summary, error)
	ItemsSince(ctx context.Context, sinceID int64) ([]fever.Item, error)
}

// StageResult holds the result of a single completed stage.
type StageResult struct {
	Name     string
	Summary  string
	Duration time.Duration
}

// Result holds the results of a sync run.
type Result struct {
	SyncID    string
	Watermark int64
	Purged    int64
	Inserted  int64
	Stages    []StageResult
}

// Engine runs syncs against one database and one remote. At most one sync
// runs at a time.
type Engine struct {
	db        *database.DB
	remote    Remote
	retention time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetention sets how long read, unsaved items are kept.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) { e.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a sync engine.
func New(db *database.DB, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		remote:    remote,
		retention: 72 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type run struct {
	e       *Engine
	ctx     context.Context
	result  *Result
	summary *fever.Summary
}

// SyncAll fetches the account summary, purges expired items, backfills new
// items, replaces groups, feeds, memberships, favicons and links, reconciles
// read and saved flags against the server and rebuilds the views.
//
// It stops at the first failing stage and returns the partial Result with a
// *StageError.
func (e *Engine) SyncAll(ctx context.Context) (*Result, error) {
	if !e.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.mu.Unlock()

	id := uuid.NewString()
	ctx = logger.Ctx(ctx, slog.String("sync_id", id))
	r := &run{e: e, ctx: ctx, result: &Result{SyncID: id}}

	stages := []struct {
		name string
		fn   func() (string, error)
	}{
		{StageSummary, r.fetchSummary},
		{StageWatermark, r.storeWatermark},
		{StagePurge, r.purge},
		{StageBackfill, r.backfill},
		{StageGroups, r.replaceGroups},
		{StageFeeds, r.replaceFeeds},
		{StageFeedGroups, r.replaceFeedGroups},
		{StageFavicons, r.replaceFavicons},
		{StageLinks, r.replaceLinks},
		{StageRead, r.reconcileRead},
		{StageSaved, r.reconcileSaved},
		{StageViews, r.rebuildViews},
	}

	slog.InfoContext(ctx, "sync started")
	started := e.now()
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return r.result, r.fail(s.name, err)
		}
		t := time.Now()
		summary, err := s.fn()
		if err != nil {
			return r.result, r.fail(s.name, err)
		}
		r.result.Stages = append(r.result.Stages, StageResult{
			Name:     s.name,
			Summary:  summary,
			Duration: time.Since(t),
		})
		slog.DebugContext(ctx, "stage done", "stage", s.name, "summary", summary)
	}
	slog.InfoContext(ctx, "sync finished",
		"inserted", r.result.Inserted,
		"purged", r.result.Purged,
		"took", e.now().Sub(started))
	return r.result, nil
}

func (r *run) fail(stage string, err error) error {
	slog.ErrorContext(r.ctx, "sync failed", "stage", stage, "error", err)
	return &StageError{Stage: stage, Err: err}
}

func (r *run) fetchSummary() (string, error) {
	s, err := r.e.remote.Summary(r.ctx)
	if err != nil {
		return "", err
	}
	r.summary = s
	r.result.Watermark = s.Watermark()
	return fmt.Sprintf("%d groups, %d feeds, %d unread, %d saved",
		len(s.Groups), len(s.Feeds), len(s.UnreadItemIDs.IDs), len(s.SavedItemIDs.IDs)), nil
}

func (r *run) storeWatermark() (string, error) {
	if err := r.e.db.SetLastRefreshed(r.ctx, r.result.Watermark); err != nil {
		return "", err
	}
	return fmt.Sprintf("last refreshed %d", r.result.Watermark), nil
}

func (r *run) purge() (string, error) {
	n, err := r.e.db.PurgeExpired(r.ctx, r.e.now(), r.e.retention)
	if err != nil {
		return "", err
	}
	r.result.Purged = n
	return fmt.Sprintf("%d expired items removed", n), nil
}

// backfill requests pages of items above the highest cached id until the
// server answers with an empty page.
func (r *run) backfill() (string, error) {
	pages := 0
	for {
		if err := r.ctx.Err(); err != nil {
			return "", err
		}
		since, err := r.e.db.MaxItemID(r.ctx)
		if err != nil {
			return "", err
		}
		batch, err := r.e.remote.ItemsSince(r.ctx, since)
		if err != nil {
			return "", err
		}
		if len(batch) == 0 {
			break
		}
		pages++

		n, err := r.e.db.InsertItems(r.ctx, toItems(batch))
		if err != nil {
			return "", err
		}
		r.result.Inserted += n

		next, err := r.e.db.MaxItemID(r.ctx)
		if err != nil {
			return "", err
		}
		if next <= since {
			return "", fmt.Errorf("%w: page %d after since_id=%d returned %d items", ErrPaginationStall, pages, since, len(batch))
		}
		slog.DebugContext(r.ctx, "backfill page", "page", pages, "since_id", since, "items", len(batch), "inserted", n)
	}
	return fmt.Sprintf("%d new items in %d pages", r.result.Inserted, pages), nil
}

func (r *run) replaceGroups() (string, error) {
	groups := toGroups(r.summary.Groups)
	return fmt.Sprintf("%d groups", len(groups)), r.e.db.ReplaceGroups(r.ctx, groups)
}

func (r *run) replaceFeeds() (string, error) {
	feeds := toFeeds(r.summary.Feeds)
	return fmt.Sprintf("%d feeds", len(feeds)), r.e.db.ReplaceFeeds(r.ctx, feeds)
}

func (r *run) replaceFeedGroups() (string, error) {
	memberships, invalid := toFeedGroups(r.summary.FeedsGroups)
	if len(invalid) > 0 {
		slog.WarnContext(r.ctx, "skipping invalid feed ids", "ids", invalid)
	}
	return fmt.Sprintf("%d memberships", len(memberships)), r.e.db.ReplaceFeedGroups(r.ctx, memberships)
}

func (r *run) replaceFavicons() (string, error) {
	favicons := toFavicons(r.summary.Favicons)
	return fmt.Sprintf("%d favicons", len(favicons)), r.e.db.ReplaceFavicons(r.ctx, favicons)
}

func (r *run) replaceLinks() (string, error) {
	links := toLinks(r.summary.Links)
	return fmt.Sprintf("%d links", len(links)), r.e.db.ReplaceLinks(r.ctx, links)
}

func (r *run) reconcileRead() (string, error) {
	return r.reconcile("unread_item_ids", r.summary.UnreadItemIDs, r.e.db.ReconcileRead)
}

func (r *run) reconcileSaved() (string, error) {
	return r.reconcile("saved_item_ids", r.summary.SavedItemIDs, r.e.db.ReconcileSaved)
}

func (r *run) reconcile(key string, ids fever.IDList, apply func(context.Context, []int64) (database.ReconcileResult, error)) (string, error) {
	if !ids.Present {
		slog.WarnContext(r.ctx, "server did not report id set, flags left as is", "key", key)
		return "skipped, not reported", nil
	}
	if len(ids.Invalid) > 0 {
		slog.WarnContext(r.ctx, "skipping invalid ids", "key", key, "ids", ids.Invalid)
	}
	res, err := apply(r.ctx, ids.IDs)
	if err != nil {
		return "", err
	}
	if res.Unknown > 0 {
		slog.DebugContext(r.ctx, "id set references uncached items", "key", key, "count", res.Unknown)
	}
	return fmt.Sprintf("%d set, %d cleared, %d unknown", res.Set, res.Cleared, res.Unknown), nil
}

func (r *run) rebuildViews() (string, error) {
	if err := r.e.db.RebuildViews(); err != nil {
		return "", err
	}
	return "views rebuilt", nil
}
