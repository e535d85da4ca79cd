// Package actions applies read and saved changes to the local cache and
// forwards them to the Fever server.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/feverista/internal/database"
	"github.com/TobiSchelling/feverista/internal/fever"
)

var (
	// ErrRemoteWrite is returned when the local change was applied but the
	// server did not accept it. The next sync reconciles the flag.
	ErrRemoteWrite = errors.New("local change applied, server write failed")
	// ErrUngroupedScope is returned for group id 0, which Fever reads as
	// "every feed" rather than "no group".
	ErrUngroupedScope = errors.New("the No Group scope cannot be marked as a group")
)

// Marker is the part of the Fever API the relay writes to.
type Marker interface {
	Mark(ctx context.Context, m fever.Mark) error
}

// Relay applies every change locally first, then remotely.
type Relay struct {
	db     *database.DB
	remote Marker
	now    func() time.Time
}

// New creates a Relay.
func New(db *database.DB, remote Marker) *Relay {
	return &Relay{db: db, remote: remote, now: time.Now}
}

// MarkItemRead marks one item read.
func (r *Relay) MarkItemRead(ctx context.Context, id int64) error {
	return r.item(ctx, id, fever.AsRead, func() error { return r.db.SetItemRead(ctx, id, true) })
}

// MarkItemUnread marks one item unread.
func (r *Relay) MarkItemUnread(ctx context.Context, id int64) error {
	return r.item(ctx, id, fever.AsUnread, func() error { return r.db.SetItemRead(ctx, id, false) })
}

// MarkItemSaved saves one item.
func (r *Relay) MarkItemSaved(ctx context.Context, id int64) error {
	return r.item(ctx, id, fever.AsSaved, func() error { return r.db.SetItemSaved(ctx, id, true) })
}

// MarkItemUnsaved unsaves one item.
func (r *Relay) MarkItemUnsaved(ctx context.Context, id int64) error {
	return r.item(ctx, id, fever.AsUnsaved, func() error { return r.db.SetItemSaved(ctx, id, false) })
}

func (r *Relay) item(ctx context.Context, id int64, as fever.MarkAs, local func() error) error {
	if err := local(); err != nil {
		return fmt.Errorf("marking item %d as %s: %w", id, as, err)
	}
	return r.forward(ctx, fever.Mark{Kind: fever.MarkItem, As: as, ID: id})
}

// MarkGroupRead marks the unread items of a group's non-spark feeds read, up
// to the last sync watermark (or now before the first sync). It returns the
// number of items changed locally.
func (r *Relay) MarkGroupRead(ctx context.Context, groupID int64) (int64, error) {
	if groupID == 0 {
		return 0, ErrUngroupedScope
	}
	before, err := r.before(ctx)
	if err != nil {
		return 0, err
	}
	n, err := r.db.MarkGroupRead(ctx, groupID, before)
	if err != nil {
		return 0, fmt.Errorf("marking group %d read: %w", groupID, err)
	}
	return n, r.forward(ctx, fever.Mark{Kind: fever.MarkGroup, As: fever.AsRead, ID: groupID, Before: before})
}

// MarkFeedRead marks a feed's unread items read with the same bound as
// MarkGroupRead.
func (r *Relay) MarkFeedRead(ctx context.Context, feedID int64) (int64, error) {
	before, err := r.before(ctx)
	if err != nil {
		return 0, err
	}
	n, err := r.db.MarkFeedRead(ctx, feedID, before)
	if err != nil {
		return 0, fmt.Errorf("marking feed %d read: %w", feedID, err)
	}
	return n, r.forward(ctx, fever.Mark{Kind: fever.MarkFeed, As: fever.AsRead, ID: feedID, Before: before})
}

func (r *Relay) before(ctx context.Context) (int64, error) {
	ts, ok, err := r.db.LastRefreshed(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading watermark: %w", err)
	}
	if !ok {
		return r.now().Unix(), nil
	}
	return ts, nil
}

func (r *Relay) forward(ctx context.Context, m fever.Mark) error {
	if err := r.remote.Mark(ctx, m); err != nil {
		slog.WarnContext(ctx, "server write failed, keeping local change",
			"mark", m.Kind, "as", m.As, "id", m.ID, "error", err)
		return fmt.Errorf("%w: %w", ErrRemoteWrite, err)
	}
	return nil
}
