// Package domain defines the core data types shared across the sync
// pipeline: price bars and their canonical representations.
package domain

import "time"

// PriceBar is one trading day of OHLCV data for a single symbol.
// Instances are built by a price source and treated as immutable afterwards.
type PriceBar struct {
	Symbol   string
	Date     time.Time // trading day, normalized to midnight UTC
	Open     float64
	Close    float64
	High     float64
	Low      float64
	Volume   float64
	AdjClose *float64 // nil when the source does not supply it
}

// DateString returns the bar's trading day as an ISO 8601 date (YYYY-MM-DD).
func (b PriceBar) DateString() string {
	return b.Date.Format("2006-01-02")
}

// Day normalizes t to midnight UTC, discarding any time-of-day component.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
