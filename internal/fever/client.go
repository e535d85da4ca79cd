// Package fever is a client for the Fever feed aggregator API.
package fever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrNetwork covers timeouts, non-2xx answers and undecodable bodies.
	ErrNetwork = errors.New("fever request failed")
	// ErrUnauthorized is returned when the server answers auth: 0.
	ErrUnauthorized = errors.New("fever rejected the api key")
	// ErrMissingWatermark is returned when a summary lacks last_refreshed_on_time.
	ErrMissingWatermark = errors.New("fever summary has no last_refreshed_on_time")
)

// MarkKind is the scope of a mark request.
type MarkKind string

const (
	MarkItem  MarkKind = "item"
	MarkGroup MarkKind = "group"
	MarkFeed  MarkKind = "feed"
)

// MarkAs is the state a mark request moves its target to.
type MarkAs string

const (
	AsRead    MarkAs = "read"
	AsUnread  MarkAs = "unread"
	AsSaved   MarkAs = "saved"
	AsUnsaved MarkAs = "unsaved"
)

// Mark is a single write to the server. Before bounds group and feed marks
// to items created at or before that unix time.
type Mark struct {
	Kind   MarkKind
	As     MarkAs
	ID     int64
	Before int64
}

// Client talks to one Fever endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	retries  uint64
	backoff  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout applies per request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// WithRetries sets how many times a failed request is retried and the base
// delay of the exponential backoff between attempts.
func WithRetries(n int, base time.Duration) Option {
	return func(c *Client) {
		if n < 0 {
			n = 0
		}
		c.retries = uint64(n)
		if base > 0 {
			c.backoff = base
		}
	}
}

// NewClient returns a client for endpoint, e.g. "https://example.com/fever/".
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		retries:  2,
		backoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summary fetches groups, feeds, favicons, the saved and unread id sets,
// hot links and the refresh watermark in one request.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	query := url.Values{"offset": {"0"}, "range": {"7"}}
	flags := []string{"groups", "feeds", "favicons", "saved_item_ids", "unread_item_ids", "links"}
	if err := c.call(ctx, flags, query, nil, &s); err != nil {
		return nil, fmt.Errorf("fetching summary: %w", err)
	}
	if s.LastRefreshedOnTime == nil {
		return nil, ErrMissingWatermark
	}
	return &s, nil
}

// ItemsSince returns the next page of items with ids above sinceID.
func (c *Client) ItemsSince(ctx context.Context, sinceID int64) ([]Item, error) {
	var page itemsPage
	query := url.Values{"since_id": {strconv.FormatInt(sinceID, 10)}}
	if err := c.call(ctx, []string{"items"}, query, nil, &page); err != nil {
		return nil, fmt.Errorf("fetching items since %d: %w", sinceID, err)
	}
	return page.Items, nil
}

// Mark applies a read or saved state change on the server.
func (c *Client) Mark(ctx context.Context, m Mark) error {
	form := url.Values{
		"mark": {string(m.Kind)},
		"as":   {string(m.As)},
		"id":   {strconv.FormatInt(m.ID, 10)},
	}
	if m.Before > 0 {
		form.Set("before", strconv.FormatInt(m.Before, 10))
	}
	var res markResult
	if err := c.call(ctx, nil, nil, form, &res); err != nil {
		return fmt.Errorf("marking %s %d as %s: %w", m.Kind, m.ID, m.As, err)
	}
	return nil
}

type authorizer interface {
	authorized() bool
}

// call POSTs the api key (plus form) to the endpoint with flags and query
// added to the url, decoding the JSON answer into v. Transport failures are
// retried with exponential backoff; an auth: 0 answer is not.
func (c *Client) call(ctx context.Context, flags []string, query, form url.Values, v authorizer) error {
	body := url.Values{"api_key": {c.apiKey}}
	for k, vs := range form {
		body[k] = vs
	}

	attempt := 0
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		rb := requests.URL(c.endpoint).
			Client(c.http).
			Param("api", "")
		for _, f := range flags {
			rb = rb.Param(f, "")
		}
		for k, vs := range query {
			rb = rb.Param(k, vs...)
		}

		err := rb.BodyForm(body).ToJSON(v).Fetch(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		slog.DebugContext(ctx, "fever request failed", "attempt", attempt, "error", err)
		return retry.RetryableError(fmt.Errorf("%w: %w", ErrNetwork, err))
	})
	if err != nil {
		return err
	}
	if !v.authorized() {
		return ErrUnauthorized
	}
	return nil
}
