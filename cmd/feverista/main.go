package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feverista/internal/actions"
	"github.com/TobiSchelling/feverista/internal/config"
	"github.com/TobiSchelling/feverista/internal/database"
	"github.com/TobiSchelling/feverista/internal/digest"
	"github.com/TobiSchelling/feverista/internal/fetch"
	"github.com/TobiSchelling/feverista/internal/fever"
	"github.com/TobiSchelling/feverista/internal/logger"
	"github.com/TobiSchelling/feverista/internal/reader"
	"github.com/TobiSchelling/feverista/internal/server"
	"github.com/TobiSchelling/feverista/internal/syncer"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config

	viewFlag    string
	groupByFlag string
	sortByFlag  string
	sortDirFlag string
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "feverista",
	Short:   "Offline reader for Fever API servers",
	Long:    "feverista mirrors a Fever API server into a local SQLite cache and reads it through Unread, Saved, All Items and Archive views.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return setupLogger("info", "text")
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return setupLogger(level, cfg.Logging.Format)
	},
}

func setupLogger(level, format string) error {
	l, err := logger.New(os.Stderr, level, format)
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&viewFlag, "view", "", "View: Unread, Saved, All Items or Archive")
	rootCmd.PersistentFlags().StringVar(&groupByFlag, "group-by", "", "Section items by date, group or feed")
	rootCmd.PersistentFlags().StringVar(&sortByFlag, "sort-by", "", "Sort items by created, feed or age")
	rootCmd.PersistentFlags().StringVar(&sortDirFlag, "sort-direction", "", "ASC or DESC")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(markCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("feverista", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/feverista/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the Fever endpoint and credentials.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Cache: %s", db.Path())
		if fi, err := os.Stat(db.Path()); err == nil {
			fmt.Printf(" (%s)", humanize.Bytes(uint64(fi.Size())))
		}
		fmt.Println()
		if stats.LastRefreshed > 0 {
			fmt.Printf("Server refreshed: %s\n", humanize.Time(time.Unix(stats.LastRefreshed, 0)))
		} else {
			fmt.Println("Server refreshed: never synced")
		}

		fmt.Println("\nCache:")
		fmt.Printf("  Items: %s\n", humanize.Comma(int64(stats.Items)))
		fmt.Printf("  Feeds: %d (%d spark)\n", stats.Feeds, stats.SparkFeeds)
		fmt.Printf("  Groups: %d\n", stats.Groups)
		fmt.Printf("  Favicons: %d\n", stats.Favicons)
		fmt.Printf("  Links: %d\n", stats.Links)
		fmt.Println("\nViews:")
		for _, v := range database.ViewTypes {
			fmt.Printf("  %s: %s\n", v, humanize.Comma(int64(stats.ViewCounts[v])))
		}
		return nil
	},
}

// --- sync command ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the Fever server into the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		engine := syncer.New(db, newClient(), syncer.WithRetention(cfg.Sync.Retention))
		res, err := engine.SyncAll(cmd.Context())
		if res != nil {
			for i, st := range res.Stages {
				fmt.Printf("Stage %2d: %-12s %s (%s)\n", i+1, st.Name, st.Summary,
					st.Duration.Round(time.Millisecond))
			}
		}
		if err != nil {
			var se *syncer.StageError
			if errors.As(err, &se) {
				fmt.Printf("Stage %s failed: %v\n", se.Stage, se.Err)
			}
			return err
		}
		fmt.Printf("\nSync complete: %d new items, %d purged.\n", res.Inserted, res.Purged)
		return nil
	},
}

// --- browse commands ---

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List groups in the current view",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sess, err := session()
		if err != nil {
			return err
		}
		l, err := reader.New(db).Groups(cmd.Context(), sess)
		if err != nil {
			return err
		}
		printListing(l, func(r reader.Row) int64 { return r.GroupID })
		return nil
	},
}

var (
	feedsGroup string
	feedsCheck bool
)

// staleAfter flags subscriptions whose newest entry is older than this.
const staleAfter = 90 * 24 * time.Hour

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "List feeds in the current view",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if feedsCheck {
			return checkFeeds(cmd.Context(), db)
		}

		sess, err := session()
		if err != nil {
			return err
		}
		groupID, err := parseScope(feedsGroup)
		if err != nil {
			return err
		}
		l, err := reader.New(db).Feeds(cmd.Context(), sess, groupID)
		if err != nil {
			return err
		}
		printListing(l, func(r reader.Row) int64 { return r.FeedID })
		return nil
	},
}

func init() {
	feedsCmd.Flags().StringVarP(&feedsGroup, "group", "g", "", "Restrict to a group id")
	feedsCmd.Flags().BoolVar(&feedsCheck, "check", false, "Probe every subscribed feed's source URL")
}

// checkFeeds probes each cached feed's source URL and reports the ones
// that fail to parse or have gone quiet.
func checkFeeds(ctx context.Context, db *database.DB) error {
	feeds, err := db.Feeds(ctx)
	if err != nil {
		return err
	}
	f := fetch.New(cfg.Fever.Timeout)
	now := time.Now()
	var failed int
	for _, feed := range feeds {
		title := reader.DecodeSymbols(feed.Title)
		if feed.URL == "" {
			fmt.Printf("  [%d] %s: no source url\n", feed.ID, title)
			continue
		}
		h, err := f.Probe(ctx, feed.URL)
		switch {
		case err != nil:
			failed++
			fmt.Printf("  [%d] %s: FAILED %v\n", feed.ID, title, err)
		case h.Stale(now, staleAfter):
			fmt.Printf("  [%d] %s: stale, last entry %s\n", feed.ID, title, humanize.Time(h.Latest))
		default:
			fmt.Printf("  [%d] %s: ok, %d entries\n", feed.ID, title, h.Entries)
		}
	}
	fmt.Printf("\nChecked %d feed(s), %d failed.\n", len(feeds), failed)
	return nil
}

var (
	itemsGroup string
	itemsFeed  string
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List items in the current view",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sess, err := session()
		if err != nil {
			return err
		}
		groupID, err := parseScope(itemsGroup)
		if err != nil {
			return err
		}
		feedID, err := parseScope(itemsFeed)
		if err != nil {
			return err
		}
		items, err := reader.New(db).Items(cmd.Context(), sess, groupID, feedID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Printf("No items in %s.\n", sess.View)
			return nil
		}

		for _, sec := range reader.Sections(sess, items) {
			fmt.Printf("\n%s\n", sec.Label)
			for _, it := range sec.Items {
				mark := " "
				switch {
				case it.IsSaved:
					mark = "*"
				case !it.IsRead:
					mark = "•"
				}
				fmt.Printf("  %s [%d] %s\n", mark, it.ID, it.Title)
				fmt.Printf("        %s\n", it.Detail)
				if it.Excerpt != "" {
					fmt.Printf("        %s\n", it.Excerpt)
				}
			}
		}
		return nil
	},
}

func init() {
	itemsCmd.Flags().StringVarP(&itemsGroup, "group", "g", "", "Restrict to a group id")
	itemsCmd.Flags().StringVarP(&itemsFeed, "feed", "f", "", "Restrict to a feed id")
}

// --- mark command ---

var markCmd = &cobra.Command{
	Use:   "mark",
	Short: "Mark items, groups or feeds and relay the change to the server",
}

func markItemCmd(use, short string, mark func(*actions.Relay) func(context.Context, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [item-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			err = mark(actions.New(db, newClient()))(cmd.Context(), id)
			if err := relayed(err); err != nil {
				return err
			}
			fmt.Printf("Item %d marked %s.\n", id, use)
			return nil
		},
	}
}

func markScopeCmd(use string, mark func(*actions.Relay) func(context.Context, int64) (int64, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [" + use + "-id]",
		Short: "Mark every item of a " + use + " read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := mark(actions.New(db, newClient()))(cmd.Context(), id)
			if err := relayed(err); err != nil {
				return err
			}
			fmt.Printf("Marked %d item(s) of %s %d read.\n", n, use, id)
			return nil
		},
	}
}

// relayed treats a failed server write as a warning: the cache already holds
// the change.
func relayed(err error) error {
	if errors.Is(err, actions.ErrRemoteWrite) {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	return err
}

func init() {
	markCmd.AddCommand(markItemCmd("read", "Mark an item read",
		func(r *actions.Relay) func(context.Context, int64) error { return r.MarkItemRead }))
	markCmd.AddCommand(markItemCmd("unread", "Mark an item unread",
		func(r *actions.Relay) func(context.Context, int64) error { return r.MarkItemUnread }))
	markCmd.AddCommand(markItemCmd("saved", "Save an item",
		func(r *actions.Relay) func(context.Context, int64) error { return r.MarkItemSaved }))
	markCmd.AddCommand(markItemCmd("unsaved", "Unsave an item",
		func(r *actions.Relay) func(context.Context, int64) error { return r.MarkItemUnsaved }))
	markCmd.AddCommand(markScopeCmd("group",
		func(r *actions.Relay) func(context.Context, int64) (int64, error) { return r.MarkGroupRead }))
	markCmd.AddCommand(markScopeCmd("feed",
		func(r *actions.Relay) func(context.Context, int64) (int64, error) { return r.MarkFeedRead }))
}

// --- read command ---

var readKeepUnread bool

// fallbackLength caps the feed-provided text shown when the article page
// cannot be extracted.
const fallbackLength = 2000

var readCmd = &cobra.Command{
	Use:   "read [item-id]",
	Short: "Fetch an item's article text and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sess, err := session()
		if err != nil {
			return err
		}
		item, err := db.ItemByID(cmd.Context(), id)
		if err != nil {
			return err
		}

		link, text := readArticle(cmd.Context(), fetch.New(cfg.Fever.Timeout), sess, item)
		fmt.Printf("%s\n%s\n\n%s\n", reader.DecodeSymbols(item.Title), link, text)

		if readKeepUnread || item.IsRead {
			return nil
		}
		return relayed(actions.New(db, newClient()).MarkItemRead(cmd.Context(), id))
	},
}

// readArticle opens an item through the session's read_url prefix and
// returns the link it used with the extracted text. The item's own html
// stands in when the page has no readable content.
func readArticle(ctx context.Context, f *fetch.Fetcher, sess reader.Session, item *database.Item) (link, text string) {
	link = sess.OpenURL(item.URL)
	article, err := f.Fetch(ctx, link)
	if err != nil {
		if !errors.Is(err, fetch.ErrNoContent) {
			slog.WarnContext(ctx, "fetching article failed", "url", link, "error", err)
		}
		return link, reader.Excerpt(item.HTML, fallbackLength)
	}
	return link, article.Text
}

func init() {
	readCmd.Flags().BoolVar(&readKeepUnread, "keep-unread", false, "Do not mark the item read")
}

// --- export command ---

var (
	exportHTML   bool
	exportOutput string
	exportGroup  string
	exportFeed   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the current view as a markdown or HTML reading list",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sess, err := session()
		if err != nil {
			return err
		}
		groupID, err := parseScope(exportGroup)
		if err != nil {
			return err
		}
		feedID, err := parseScope(exportFeed)
		if err != nil {
			return err
		}

		d, err := digest.Build(cmd.Context(), reader.New(db), sess, groupID, feedID, time.Now())
		if err != nil {
			return fmt.Errorf("building digest: %w", err)
		}
		out := d.Markdown()
		if exportHTML {
			if out, err = d.HTML(); err != nil {
				return err
			}
		}

		if exportOutput == "" || exportOutput == "-" {
			fmt.Print(out)
			return nil
		}
		if err := os.WriteFile(exportOutput, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Printf("Exported %d item(s) to %s\n", d.Total, exportOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportHTML, "html", false, "Render HTML instead of markdown")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVarP(&exportGroup, "group", "g", "", "Restrict to a group id")
	exportCmd.Flags().StringVarP(&exportFeed, "feed", "f", "", "Restrict to a feed id")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sess, err := session()
		if err != nil {
			return err
		}
		client := newClient()
		engine := syncer.New(db, client, syncer.WithRetention(cfg.Sync.Retention))
		srv, err := server.New(db, actions.New(db, client), engine, sess)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		addr := fmt.Sprintf("localhost:%d", port)
		fmt.Printf("Starting server at http://%s\n", addr)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(cmd.Context(), srv, addr, cfg.Sync.Interval)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// session layers the view flags over the configured reader defaults.
func session() (reader.Session, error) {
	sess, err := cfg.Session()
	if err != nil {
		return sess, err
	}
	override, err := reader.ParseSession(
		pick(viewFlag, string(sess.View)),
		pick(groupByFlag, string(sess.GroupBy)),
		pick(sortByFlag, string(sess.SortBy)),
		pick(sortDirFlag, string(sess.SortDir)),
	)
	if err != nil {
		return sess, err
	}
	override.ReadURL = sess.ReadURL
	return override, nil
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func printListing(l *reader.Listing, id func(reader.Row) int64) {
	if l.Header == nil {
		fmt.Println("Nothing to show.")
		return
	}
	fmt.Println(l.Header.Title)
	for _, r := range l.Rows {
		fmt.Printf("  [%d] %s\n", id(r), r.Title)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %s", s)
	}
	return id, nil
}

// parseScope reads a group or feed filter; empty or "%" selects everything.
func parseScope(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "%" {
		return database.Any, nil
	}
	id, err := parseID(s)
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, fmt.Errorf("invalid id: %s", s)
	}
	return id, nil
}

func newClient() *fever.Client {
	return fever.NewClient(cfg.Fever.Endpoint, cfg.APIKey(),
		fever.WithTimeout(cfg.Fever.Timeout),
		fever.WithRetries(cfg.Fever.Retries, 500*time.Millisecond),
	)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath())
}
