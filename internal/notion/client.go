// Package notion implements the record-store gateway for a Notion database
// destination: querying which (symbol, date) rows already exist and creating
// pages for new price bars.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tiingosync/internal/domain"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-06-28"
)

// QueryError is returned when the Notion API responds with a non-success
// status during a query or page creation.
type QueryError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("notion: %s failed: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// PropertyConfig maps price-bar fields to Notion database property names.
type PropertyConfig struct {
	Ticker   string
	Date     string
	Open     string
	Close    string
	High     string
	Low      string
	Volume   string
	AdjClose string
}

// DefaultProperties returns the property names used when none are configured.
func DefaultProperties() PropertyConfig {
	return PropertyConfig{
		Ticker:   "Ticker",
		Date:     "Date",
		Open:     "Open",
		Close:    "Close",
		High:     "High",
		Low:      "Low",
		Volume:   "Volume",
		AdjClose: "Adj Close",
	}
}

// ClientOpts configures a Client. Zero fields take defaults.
type ClientOpts struct {
	APIKey     string
	DatabaseID string
	Properties PropertyConfig // zero value → DefaultProperties
	BaseURL    string
	Timeout    time.Duration // per-request timeout, default 30s

	// PageSize is the number of rows requested per query page, clamped to
	// [1, 100]. Default 50.
	PageSize int

	// MaxPages caps pagination depth as a guard against runaway queries.
	// Default 4.
	MaxPages int

	// CreateWorkers bounds the parallel fan-out of page creation. Default 4.
	CreateWorkers int
}

// Client reads and writes price rows in a Notion database. A Client owns one
// HTTP session; use Clone to obtain an equivalent client with an independent
// session for use by a concurrent worker.
type Client struct {
	opts    ClientOpts
	session *http.Client
	log     *slog.Logger
}

// NewClient creates a Notion client from opts.
func NewClient(opts ClientOpts) *Client {
	if opts.Properties == (PropertyConfig{}) {
		opts.Properties = DefaultProperties()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.PageSize > 100 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 4
	}
	if opts.CreateWorkers <= 0 {
		opts.CreateWorkers = 4
	}
	return &Client{
		opts:    opts,
		session: &http.Client{Timeout: opts.Timeout},
		log:     slog.Default().With("store", "notion"),
	}
}

// Clone returns a client with the same configuration and a fresh HTTP
// session. Concurrent workers must each use their own clone; sessions are
// never shared mutably across workers.
func (c *Client) Clone() *Client {
	return NewClient(c.opts)
}

// QueryExistingDates returns the set of ISO date strings already present in
// the database for symbol within the optional inclusive [start, end] range.
// Pagination continues while the API reports more pages, up to MaxPages. Any
// non-success response fails the whole query; partial pages are discarded.
func (c *Client) QueryExistingDates(ctx context.Context, symbol string, start, end time.Time) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	cursor := ""

	for page := 0; page < c.opts.MaxPages; page++ {
		body := map[string]any{
			"page_size": c.opts.PageSize,
			"filter":    c.buildFilter(symbol, start, end),
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var resp queryResponse
		url := fmt.Sprintf("%s/databases/%s/query", c.opts.BaseURL, c.opts.DatabaseID)
		if err := c.post(ctx, c.session, "query", url, body, &resp); err != nil {
			return nil, fmt.Errorf("querying existing dates for %s: %w", symbol, err)
		}

		for _, p := range resp.Results {
			if d := c.extractDate(p); d != "" {
				seen[d] = struct{}{}
			}
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return seen, nil
}

// CreateRows persists bars as individual pages, fanning out across at most
// CreateWorkers parallel submissions. An individual page failure is logged
// and skipped; sibling writes are not rolled back. Created page IDs are
// returned in input order with failed slots removed. The error return is
// reserved for run-level failures such as context cancellation.
func (c *Client) CreateRows(ctx context.Context, bars []domain.PriceBar) ([]string, error) {
	if len(bars) == 0 {
		return nil, nil
	}

	ids := make([]string, len(bars))
	jobs := make(chan int)
	workers := min(c.opts.CreateWorkers, len(bars))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each worker submits on its own session.
			session := &http.Client{Timeout: c.opts.Timeout}
			for i := range jobs {
				bar := bars[i]
				id, err := c.createPage(ctx, session, bar)
				if err != nil {
					c.log.Warn("skipping row after create failure",
						"symbol", bar.Symbol, "date", bar.DateString(), "err", err)
					continue
				}
				ids[i] = id
			}
		}()
	}

	for i := range bars {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	created := make([]string, 0, len(bars))
	for _, id := range ids {
		if id != "" {
			created = append(created, id)
		}
	}
	if failed := len(bars) - len(created); failed > 0 {
		c.log.Warn("created rows with failures", "created", len(created), "failed", failed)
	}
	return created, nil
}

// createPage submits one bar and returns the created page ID.
func (c *Client) createPage(ctx context.Context, session *http.Client, bar domain.PriceBar) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, session, "create page", c.opts.BaseURL+"/pages", c.pagePayload(bar), &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// post sends one JSON request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, session *http.Client, op, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("notion: encoding %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notion: building %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", notionVersion)

	resp, err := session.Do(req)
	if err != nil {
		return fmt.Errorf("notion: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("notion: reading %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &QueryError{Operation: op, StatusCode: resp.StatusCode, Body: excerpt(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("notion: decoding %s response: %w", op, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type page struct {
	Properties map[string]propertyValue `json:"properties"`
}

type propertyValue struct {
	Date *dateValue `json:"date"`
}

type dateValue struct {
	Start string `json:"start"`
}

func (c *Client) extractDate(p page) string {
	prop, ok := p.Properties[c.opts.Properties.Date]
	if !ok || prop.Date == nil {
		return ""
	}
	return prop.Date.Start
}

// buildFilter produces the query filter: symbol equality AND the optional
// date bounds. A single clause is used unwrapped, per the Notion filter
// grammar.
func (c *Client) buildFilter(symbol string, start, end time.Time) map[string]any {
	props := c.opts.Properties
	filters := []map[string]any{
		{
			"property": props.Ticker,
			"title":    map[string]any{"equals": symbol},
		},
	}
	if !start.IsZero() {
		filters = append(filters, map[string]any{
			"property": props.Date,
			"date":     map[string]any{"on_or_after": start.Format("2006-01-02")},
		})
	}
	if !end.IsZero() {
		filters = append(filters, map[string]any{
			"property": props.Date,
			"date":     map[string]any{"on_or_before": end.Format("2006-01-02")},
		})
	}
	if len(filters) == 1 {
		return filters[0]
	}
	return map[string]any{"and": filters}
}

// pagePayload maps one bar onto the database's property set.
func (c *Client) pagePayload(bar domain.PriceBar) map[string]any {
	props := c.opts.Properties
	properties := map[string]any{
		props.Ticker: map[string]any{
			"title": []any{
				map[string]any{
					"type": "text",
					"text": map[string]any{"content": bar.Symbol},
				},
			},
		},
		props.Date:   map[string]any{"date": map[string]any{"start": bar.DateString()}},
		props.Open:   map[string]any{"number": bar.Open},
		props.Close:  map[string]any{"number": bar.Close},
		props.High:   map[string]any{"number": bar.High},
		props.Low:    map[string]any{"number": bar.Low},
		props.Volume: map[string]any{"number": bar.Volume},
	}
	if bar.AdjClose != nil {
		properties[props.AdjClose] = map[string]any{"number": *bar.AdjClose}
	}
	return map[string]any{
		"parent":     map[string]any{"database_id": c.opts.DatabaseID},
		"properties": properties,
	}
}

func excerpt(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
