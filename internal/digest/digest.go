// Package digest renders a view as a markdown (or HTML) reading list.
package digest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/feverista/internal/reader"
)

var md = goldmark.New()

// Digest is a sectioned snapshot of one view.
type Digest struct {
	Title       string
	GeneratedAt time.Time
	Sections    []reader.Section
	Total       int
	openURL     func(string) string
}

// Build reads the items of a view (filtered by group and feed, database.Any
// for all) and splits them into the session's sections.
func Build(ctx context.Context, r *reader.Reader, s reader.Session, groupID, feedID int64, now time.Time) (*Digest, error) {
	items, err := r.Items(ctx, s, groupID, feedID)
	if err != nil {
		return nil, err
	}
	return &Digest{
		Title:       fmt.Sprintf("%s (%d)", s.View, len(items)),
		GeneratedAt: now,
		Sections:    reader.Sections(s, items),
		Total:       len(items),
		openURL:     s.OpenURL,
	}, nil
}

// Markdown renders the digest.
func (d *Digest) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n_Generated %s_\n", d.Title, d.GeneratedAt.Format("2006-01-02 15:04"))
	if d.Total == 0 {
		b.WriteString("\nNothing to read.\n")
		return b.String()
	}

	var sections []string
	for _, s := range d.Sections {
		sections = append(sections, d.section(s))
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(sections, "\n\n---\n\n"))
	b.WriteString("\n")
	return b.String()
}

func (d *Digest) section(s reader.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", s.Label)
	for _, it := range s.Items {
		url := it.URL
		if d.openURL != nil {
			url = d.openURL(url)
		}
		fmt.Fprintf(&b, "\n### [%s](%s)\n\n*%s*\n", escape(it.Title), url, escape(it.Detail))
		if it.Excerpt != "" {
			fmt.Fprintf(&b, "\n> %s\n", escape(it.Excerpt))
		}
	}
	return b.String()
}

// HTML renders the markdown through goldmark.
func (d *Digest) HTML() (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(d.Markdown()), &buf); err != nil {
		return "", fmt.Errorf("rendering digest: %w", err)
	}
	return buf.String(), nil
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	"[", `\[`,
	"]", `\]`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
)

func escape(s string) string {
	return mdEscaper.Replace(s)
}
