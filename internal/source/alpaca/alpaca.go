// Package alpaca implements the price-source gateway on top of the Alpaca
// market-data SDK, as an alternative to the Tiingo HTTP client.
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tiingosync/internal/domain"
	"tiingosync/internal/source"
)

// Compile-time interface check.
var _ source.PriceSource = (*Source)(nil)

// Source fetches daily bars via the Alpaca market-data API. Alpaca does not
// report an adjusted close, so AdjClose is always nil.
type Source struct {
	client *marketdata.Client
	log    *slog.Logger
}

// NewSource creates an Alpaca-backed price source with the given credentials.
// dataURL overrides the SDK's default market-data endpoint when non-empty.
func NewSource(apiKey, apiSecret, dataURL string) *Source {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &Source{
		client: marketdata.NewClient(opts),
		log:    slog.Default().With("source", "alpaca"),
	}
}

// Name returns the provider identifier.
func (s *Source) Name() string { return "alpaca" }

// Fetch returns daily history for one symbol, sorted ascending by day.
func (s *Source) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	all, err := s.FetchBulk(ctx, []string{symbol}, start, end)
	if err != nil {
		return nil, err
	}
	return all[strings.ToUpper(symbol)], nil
}

// FetchBulk fetches daily history for many symbols in a single multi-bar
// request. The SDK paginates internally, so no worker pool is needed here.
func (s *Source) FetchBulk(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PriceBar, error) {
	results := make(map[string][]domain.PriceBar, len(symbols))
	if len(symbols) == 0 {
		return results, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	multiBars, err := s.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: GetMultiBars: %w", err)
	}

	for symbol, bars := range multiBars {
		results[strings.ToUpper(symbol)] = convertBars(strings.ToUpper(symbol), bars)
	}
	// Symbols with no data still appear in the mapping, with no bars.
	for _, symbol := range symbols {
		key := strings.ToUpper(symbol)
		if _, ok := results[key]; !ok {
			results[key] = nil
		}
	}
	return results, nil
}

// convertBars maps SDK bars to domain bars, sorted ascending by day.
func convertBars(symbol string, bars []marketdata.Bar) []domain.PriceBar {
	out := make([]domain.PriceBar, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.PriceBar{
			Symbol: symbol,
			Date:   domain.Day(b.Timestamp),
			Open:   b.Open,
			Close:  b.Close,
			High:   b.High,
			Low:    b.Low,
			Volume: float64(b.Volume),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
