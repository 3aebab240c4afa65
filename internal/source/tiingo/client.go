// Package tiingo implements the price-source gateway for the Tiingo
// end-of-day REST API.
package tiingo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tiingosync/internal/domain"
	"tiingosync/internal/source"
	"tiingosync/internal/util"
)

// Compile-time interface check.
var _ source.PriceSource = (*Client)(nil)

const defaultBaseURL = "https://api.tiingo.com/tiingo/daily"

// APIError is returned when Tiingo responds with a non-success HTTP status.
type APIError struct {
	Symbol     string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tiingo: request for %s failed: status %d: %s", e.Symbol, e.StatusCode, e.Body)
}

// ClientOpts configures a Client. Zero fields take defaults.
type ClientOpts struct {
	APIKey  string
	BaseURL string        // default: the public Tiingo daily endpoint
	Timeout time.Duration // per-request timeout, default 30s

	// MaxWorkers bounds FetchBulk concurrency. Default 10.
	MaxWorkers int

	// RateLimitPerMin throttles requests across all workers when > 0.
	RateLimitPerMin int

	// SessionFactory builds the HTTP session each bulk worker creates for
	// itself. Mainly used by tests; the default builds a plain http.Client
	// with the configured timeout.
	SessionFactory func() *http.Client
}

// Client fetches daily price history from the Tiingo REST API.
//
// Bulk fetches run on a bounded worker pool; every worker lazily creates its
// own HTTP session on first use and keeps it for the worker's lifetime.
// Sessions are never shared between concurrent workers.
type Client struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxWorkers int
	limiter    *util.RateLimiter
	newSession func() *http.Client
	log        *slog.Logger

	sessionOnce sync.Once
	session     *http.Client // session for the single-fetch path
}

// NewClient creates a Tiingo client from opts.
func NewClient(opts ClientOpts) *Client {
	c := &Client{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		timeout:    opts.Timeout,
		maxWorkers: opts.MaxWorkers,
		newSession: opts.SessionFactory,
		log:        slog.Default().With("source", "tiingo"),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.maxWorkers <= 0 {
		c.maxWorkers = 10
	}
	if opts.RateLimitPerMin > 0 {
		c.limiter = util.NewRateLimiter(opts.RateLimitPerMin)
	}
	if c.newSession == nil {
		c.newSession = func() *http.Client {
			return &http.Client{Timeout: c.timeout}
		}
	}
	return c
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "tiingo" }

// Fetch returns the daily price history for one symbol, sorted ascending by
// trading day. Zero start/end times leave the corresponding bound unset.
func (c *Client) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	c.sessionOnce.Do(func() { c.session = c.newSession() })
	return c.fetchWith(ctx, c.session, symbol, start, end)
}

// FetchBulk fetches history for many symbols concurrently with at most
// MaxWorkers in flight. The first failure cancels the remaining work and is
// returned; no partial mapping is handed back.
func (c *Client) FetchBulk(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PriceBar, error) {
	results := make(map[string][]domain.PriceBar, len(symbols))
	if len(symbols) == 0 {
		return results, nil
	}

	workers := min(c.maxWorkers, len(symbols))
	jobs := make(chan string)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, symbol := range symbols {
			select {
			case jobs <- symbol:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var mu sync.Mutex
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			// Worker-scoped session: created lazily on the first job,
			// reused for this worker only.
			var session *http.Client
			for symbol := range jobs {
				if session == nil {
					session = c.newSession()
				}
				bars, err := c.fetchWith(ctx, session, symbol, start, end)
				if err != nil {
					return fmt.Errorf("bulk fetch %s: %w", symbol, err)
				}
				mu.Lock()
				results[symbol] = bars
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchWith performs one request on the given session and parses the
// response into sorted bars.
func (c *Client) fetchWith(ctx context.Context, session *http.Client, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("token", c.apiKey)
	if !start.IsZero() {
		q.Set("startDate", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		q.Set("endDate", end.Format("2006-01-02"))
	}
	reqURL := c.baseURL + "/" + url.PathEscape(symbol) + "/prices?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tiingo: building request for %s: %w", symbol, err)
	}

	resp, err := session.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiingo: fetching %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tiingo: reading response for %s: %w", symbol, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Symbol: symbol, StatusCode: resp.StatusCode, Body: excerpt(body)}
	}

	var payload []barPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("tiingo: parsing response for %s: expected a JSON array of price objects: %w", symbol, err)
	}

	bars := make([]domain.PriceBar, 0, len(payload))
	for _, item := range payload {
		bar, err := item.toPriceBar(symbol)
		if err != nil {
			return nil, fmt.Errorf("tiingo: parsing bar for %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// barPayload mirrors one element of the Tiingo price-history response.
type barPayload struct {
	Date     string   `json:"date"`
	Open     float64  `json:"open"`
	Close    float64  `json:"close"`
	High     float64  `json:"high"`
	Low      float64  `json:"low"`
	Volume   float64  `json:"volume"`
	AdjClose *float64 `json:"adjClose"`
}

func (p barPayload) toPriceBar(symbol string) (domain.PriceBar, error) {
	if p.Date == "" {
		return domain.PriceBar{}, fmt.Errorf("payload missing 'date'")
	}
	day, err := parseDate(p.Date)
	if err != nil {
		return domain.PriceBar{}, err
	}
	return domain.PriceBar{
		Symbol:   symbol,
		Date:     day,
		Open:     p.Open,
		Close:    p.Close,
		High:     p.High,
		Low:      p.Low,
		Volume:   p.Volume,
		AdjClose: p.AdjClose,
	}, nil
}

// parseDate accepts the timestamp format Tiingo uses for daily bars as well
// as a bare ISO date.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return domain.Day(t), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return domain.Day(t), nil
}

func excerpt(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
