// Package server exposes the reader and the action relay as a local JSON API.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/TobiSchelling/feverista/internal/actions"
	"github.com/TobiSchelling/feverista/internal/database"
	"github.com/TobiSchelling/feverista/internal/reader"
	"github.com/TobiSchelling/feverista/internal/syncer"
)

// Syncer runs a full sync.
type Syncer interface {
	SyncAll(ctx context.Context) (*syncer.Result, error)
}

type favicon struct {
	contentType string
	data        []byte
}

// Server is the HTTP server for the local API.
type Server struct {
	db       *database.DB
	reader   *reader.Reader
	relay    *actions.Relay
	syncer   Syncer
	session  reader.Session
	favicons *lru.Cache[int64, favicon]
	router   chi.Router
}

// New creates a new Server. session supplies the defaults for query
// parameters a request leaves out.
func New(db *database.DB, relay *actions.Relay, sync Syncer, session reader.Session) (*Server, error) {
	cache, err := lru.New[int64, favicon](256)
	if err != nil {
		return nil, fmt.Errorf("creating favicon cache: %w", err)
	}
	s := &Server{
		db:       db,
		reader:   reader.New(db),
		relay:    relay,
		syncer:   sync,
		session:  session,
		favicons: cache,
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/groups", s.handleGroups)
		r.Get("/feeds", s.handleFeeds)
		r.Get("/items", s.handleItems)
		r.Post("/items/{id}/{action}", s.handleItemAction)
		r.Post("/groups/{id}/read", s.handleGroupRead)
		r.Post("/feeds/{id}/read", s.handleFeedRead)
		r.Post("/sync", s.handleSync)
	})
	r.Get("/favicons/{id}", s.handleFavicon)

	s.router = r
}

// sessionFor applies the view, group_by, sort_by and sort_direction query
// parameters on top of the server's session.
func (s *Server) sessionFor(r *http.Request) (reader.Session, error) {
	sess := s.session
	q := r.URL.Query()
	var err error
	if v := q.Get("view"); v != "" {
		if sess.View, err = database.ParseViewType(v); err != nil {
			return sess, err
		}
	}
	if v := q.Get("group_by"); v != "" {
		if sess.GroupBy, err = reader.ParseGroupBy(v); err != nil {
			return sess, err
		}
	}
	if v := q.Get("sort_by"); v != "" {
		if sess.SortBy, err = database.ParseSortKey(v); err != nil {
			return sess, err
		}
	}
	if v := q.Get("sort_direction"); v != "" {
		if sess.SortDir, err = database.ParseSortDirection(v); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// idParam reads an optional id query parameter; absent or "%" means
// database.Any. Negative ids are rejected.
func idParam(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" || v == "%" {
		return database.Any, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	v := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", v)
	}
	return id, nil
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l, err := s.reader.Groups(r.Context(), sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	groupID, err := idParam(r, "group_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l, err := s.reader.Feeds(r.Context(), sess, groupID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	groupID, err := idParam(r, "group_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	feedID, err := idParam(r, "feed_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := s.reader.Items(r.Context(), sess, groupID, feedID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for i := range items {
		items[i].URL = sess.OpenURL(items[i].URL)
	}
	sections := reader.Sections(sess, items)
	if sections == nil {
		sections = []reader.Section{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"view":     sess.View,
		"count":    len(items),
		"sections": sections,
	})
}

func (s *Server) handleItemAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var mark func(context.Context, int64) error
	switch chi.URLParam(r, "action") {
	case "read":
		mark = s.relay.MarkItemRead
	case "unread":
		mark = s.relay.MarkItemUnread
	case "saved":
		mark = s.relay.MarkItemSaved
	case "unsaved":
		mark = s.relay.MarkItemUnsaved
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", chi.URLParam(r, "action")))
		return
	}

	s.relayed(w, r, map[string]any{"id": id}, mark(r.Context(), id))
}

func (s *Server) handleGroupRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.relay.MarkGroupRead(r.Context(), id)
	s.relayed(w, r, map[string]any{"id": id, "marked": n}, err)
}

func (s *Server) handleFeedRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.relay.MarkFeedRead(r.Context(), id)
	s.relayed(w, r, map[string]any{"id": id, "marked": n}, err)
}

// relayed answers a relay call. A failed server write still changed the
// cache, so it is reported as 202 with a warning.
func (s *Server) relayed(w http.ResponseWriter, r *http.Request, body map[string]any, err error) {
	switch {
	case err == nil:
		body["status"] = "ok"
		writeJSON(w, http.StatusOK, body)
	case errors.Is(err, actions.ErrRemoteWrite):
		body["status"] = "pending"
		body["warning"] = err.Error()
		writeJSON(w, http.StatusAccepted, body)
	default:
		s.fail(w, r, err)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.syncer.SyncAll(r.Context())
	if errors.Is(err, syncer.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.favicons.Purge()

	body := map[string]any{"status": "ok"}
	if res != nil {
		body["sync_id"] = res.SyncID
		body["inserted"] = res.Inserted
		body["purged"] = res.Purged
		body["stages"] = stageNames(res)
	}
	if err != nil {
		var se *syncer.StageError
		if errors.As(err, &se) {
			body["failed_stage"] = se.Stage
		}
		body["status"] = "failed"
		body["error"] = err.Error()
		writeJSON(w, http.StatusBadGateway, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func stageNames(res *syncer.Result) []string {
	names := make([]string, 0, len(res.Stages))
	for _, st := range res.Stages {
		names = append(names, st.Name)
	}
	return names
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	fav, ok := s.favicons.Get(id)
	if !ok {
		row, err := s.db.FaviconByID(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if fav, err = decodeFavicon(row.Data); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.favicons.Add(id, fav)
	}

	w.Header().Set("Content-Type", fav.contentType)
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(fav.data)
}

// decodeFavicon splits a Fever favicon payload such as
// "image/png;base64,iVBOR..." into its content type and bytes.
func decodeFavicon(payload string) (favicon, error) {
	contentType, data, ok := strings.Cut(payload, ";base64,")
	if !ok {
		return favicon{}, errors.New("favicon is not base64 encoded")
	}
	contentType = strings.TrimPrefix(contentType, "data:")
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return favicon{}, fmt.Errorf("decoding favicon: %w", err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(raw)
	}
	return favicon{contentType: contentType, data: raw}, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, actions.ErrUngroupedScope):
		writeError(w, http.StatusBadRequest, err)
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
