// Package source defines the abstraction over market-data providers that
// supply daily price history for ticker symbols.
package source

import (
	"context"
	"time"

	"tiingosync/internal/domain"
)

// PriceSource is the interface for all price-history providers.
//
// A zero start or end time means the corresponding bound is unset and must be
// passed through to the provider as "no bound". Bars returned for one symbol
// are sorted ascending by trading day with unique dates.
type PriceSource interface {
	// Name returns the provider identifier.
	Name() string

	// Fetch returns the daily price history for one symbol within the
	// optional inclusive [start, end] range.
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceBar, error)

	// FetchBulk fetches history for many symbols concurrently. On any
	// individual failure the whole call fails and no partial mapping is
	// returned.
	FetchBulk(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PriceBar, error)
}
