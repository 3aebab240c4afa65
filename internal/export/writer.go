// Package export writes the JSON export files produced by each pipeline
// batch: a top-level object keyed by symbol, each mapping to the symbol's
// newly discovered bars.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tiingosync/internal/domain"
)

// BarJSON is the on-disk representation of one price bar.
type BarJSON struct {
	Ticker   string   `json:"ticker"`
	Date     string   `json:"date"`
	Open     float64  `json:"open"`
	Close    float64  `json:"close"`
	High     float64  `json:"high"`
	Low      float64  `json:"low"`
	Volume   float64  `json:"volume"`
	AdjClose *float64 `json:"adj_close"`
}

// ConvertBars maps domain bars to their JSON form.
func ConvertBars(bars []domain.PriceBar) []BarJSON {
	out := make([]BarJSON, 0, len(bars))
	for _, b := range bars {
		out = append(out, BarJSON{
			Ticker:   b.Symbol,
			Date:     b.DateString(),
			Open:     b.Open,
			Close:    b.Close,
			High:     b.High,
			Low:      b.Low,
			Volume:   b.Volume,
			AdjClose: b.AdjClose,
		})
	}
	return out
}

// Writer persists per-batch exports under OutputDir with names of the form
// {prefix}_{UTC timestamp}.json.
type Writer struct {
	OutputDir string
	Prefix    string

	now func() time.Time // override for tests
}

// NewWriter creates a Writer rooted at outputDir.
func NewWriter(outputDir, prefix string) *Writer {
	return &Writer{OutputDir: outputDir, Prefix: prefix, now: time.Now}
}

// Write persists the grouped bars as one JSON file and returns its path.
// Symbols with no bars are omitted from the contents. When two batches land
// within the same second, a numeric suffix keeps their files distinct.
func (w *Writer) Write(pricesBySymbol map[string][]domain.PriceBar) (string, error) {
	if err := os.MkdirAll(w.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("export: creating output dir: %w", err)
	}

	timestamp := w.now().UTC().Format("20060102T150405Z")
	base := fmt.Sprintf("%s_%s", w.Prefix, timestamp)
	path := filepath.Join(w.OutputDir, base+".json")
	for n := 2; fileExists(path); n++ {
		path = filepath.Join(w.OutputDir, fmt.Sprintf("%s_%d.json", base, n))
	}

	payload := make(map[string][]BarJSON, len(pricesBySymbol))
	for symbol, bars := range pricesBySymbol {
		if len(bars) == 0 {
			continue
		}
		payload[symbol] = ConvertBars(bars)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: creating %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("export: writing %s: %w", path, err)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
