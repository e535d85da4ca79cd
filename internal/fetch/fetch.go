// Package fetch downloads an article page and extracts its readable text.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	readability "github.com/go-shiori/go-readability"
)

// ErrNoContent is returned when a page has no extractable article text.
var ErrNoContent = errors.New("no extractable content")

const (
	minTextLength = 100
	userAgent     = "feverista/1.0 (feed reader)"
)

// Article is the readable part of a web page.
type Article struct {
	URL   string
	Title string
	Text  string
}

// Fetcher fetches full article text via HTTP + readability extraction.
type Fetcher struct {
	client *http.Client
}

// New creates a fetcher whose requests time out after timeout.
func New(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Fetch downloads articleURL and extracts its main text.
func (f *Fetcher) Fetch(ctx context.Context, articleURL string) (*Article, error) {
	parsedURL, err := url.Parse(articleURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	var body bytes.Buffer
	err = requests.URL(articleURL).
		Client(f.client).
		UserAgent(userAgent).
		ToBytesBuffer(&body).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", articleURL, err)
	}

	article, err := readability.FromReader(&body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", articleURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) <= minTextLength {
		return nil, fmt.Errorf("%s: %w", articleURL, ErrNoContent)
	}
	return &Article{
		URL:   articleURL,
		Title: strings.TrimSpace(article.Title),
		Text:  text,
	}, nil
}
