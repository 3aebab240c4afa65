package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tiingosync/internal/domain"
)

// BarRecord is the Parquet schema for archived daily bars.
type BarRecord struct {
	Symbol   string   `parquet:"symbol"`
	Date     int64    `parquet:"date,timestamp(millisecond)"` // Unix ms, UTC midnight
	Open     float64  `parquet:"open"`
	Close    float64  `parquet:"close"`
	High     float64  `parquet:"high"`
	Low      float64  `parquet:"low"`
	Volume   float64  `parquet:"volume"`
	AdjClose *float64 `parquet:"adj_close,optional"`
}

// BarArchive retains daily bars in Parquet files on disk, one file per
// symbol and year:
//
//	<DataDir>/daily/<SYMBOL>/<YYYY>.parquet
//
// Writes merge with any existing file, deduplicating by (symbol, date) with
// incoming records winning.
type BarArchive struct {
	DataDir string
}

// NewBarArchive creates a BarArchive rooted at dataDir.
func NewBarArchive(dataDir string) *BarArchive {
	return &BarArchive{DataDir: dataDir}
}

// WriteBars archives bars grouped by symbol and year.
func (a *BarArchive) WriteBars(ctx context.Context, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, year: b.Date.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:   b.Symbol,
			Date:     b.Date.UnixMilli(),
			Open:     b.Open,
			Close:    b.Close,
			High:     b.High,
			Low:      b.Low,
			Volume:   b.Volume,
			AdjClose: b.AdjClose,
		})
	}

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := a.barPath(k.symbol, k.year)

		// Merge with existing records; a missing file reads as empty.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("archiving bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads archived bars for symbol in the inclusive [start, end] range.
func (a *BarArchive) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	var bars []domain.PriceBar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](a.barPath(symbol, year))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			d := time.UnixMilli(r.Date).UTC()
			if d.Before(start) || d.After(end) {
				continue
			}
			bars = append(bars, domain.PriceBar{
				Symbol:   r.Symbol,
				Date:     d,
				Open:     r.Open,
				Close:    r.Close,
				High:     r.High,
				Low:      r.Low,
				Volume:   r.Volume,
				AdjClose: r.AdjClose,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols present in the archive.
func (a *BarArchive) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.DataDir, "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// barPath returns the archive path for a symbol's year file.
func (a *BarArchive) barPath(symbol string, year int) string {
	return filepath.Join(a.DataDir, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates records by (symbol, date), preferring incoming
// records over existing ones. Results are sorted by date.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		date   int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Date}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Date}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
