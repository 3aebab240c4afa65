// Command tiingo-batch is the standalone batch exporter: it fetches daily
// bars sequentially per symbol with retry and writes one numbered JSON file
// per batch, without consulting a record store or uploading anywhere.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"tiingosync/internal/batch"
	"tiingosync/internal/config"
	"tiingosync/internal/domain"
	"tiingosync/internal/export"
	"tiingosync/internal/source/tiingo"
	"tiingosync/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config file (optional)")
	tickersPath := flag.String("tickers", "", "path to JSON file containing an array of ticker symbols (required)")
	startDate := flag.String("start-date", "", "inclusive lower date bound, YYYY-MM-DD")
	endDate := flag.String("end-date", "", "inclusive upper date bound, YYYY-MM-DD")
	batchSize := flag.Int("batch-size", 10, "symbols per output file")
	outputDir := flag.String("output-dir", "exports", "directory for JSON exports")
	maxRetries := flag.Int("max-retries", 3, "fetch attempts per symbol")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Tiingo.APIKey == "" {
		log.Fatal("tiingo.api_key is required (or TIINGO_API_KEY)")
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	symbols, err := loadTickers(*tickersPath)
	if err != nil {
		log.Fatalf("failed to load tickers: %v", err)
	}
	start, err := parseDateFlag(*startDate)
	if err != nil {
		log.Fatalf("invalid -start-date: %v", err)
	}
	end, err := parseDateFlag(*endDate)
	if err != nil {
		log.Fatalf("invalid -end-date: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := tiingo.NewClient(tiingo.ClientOpts{
		APIKey:          cfg.Tiingo.APIKey,
		BaseURL:         cfg.Tiingo.BaseURL,
		RateLimitPerMin: cfg.Tiingo.RateLimitPerMin,
	})

	if err := run(ctx, client, symbols, start, end, *batchSize, *outputDir, *maxRetries); err != nil {
		log.Fatalf("batch export failed: %v", err)
	}
}

func run(ctx context.Context, client *tiingo.Client, symbols []string, start, end time.Time, batchSize int, outputDir string, maxRetries int) error {
	batches, err := batch.Chunked(slices.Values(symbols), batchSize)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	batchNum := 0
	for group := range batches {
		batchNum++
		prices := make(map[string][]export.BarJSON, len(group))

		for _, symbol := range group {
			var bars []domain.PriceBar
			err := util.Retry(ctx, maxRetries, time.Second, func() error {
				var fetchErr error
				bars, fetchErr = client.Fetch(ctx, symbol, start, end)
				return fetchErr
			})
			if err != nil {
				return fmt.Errorf("batch %d: fetching %s: %w", batchNum, symbol, err)
			}
			prices[symbol] = export.ConvertBars(bars)
			slog.Info("fetched prices", "symbol", symbol, "bars", len(bars))
		}

		path := filepath.Join(outputDir, fmt.Sprintf("prices_batch_%03d.json", batchNum))
		if err := writeJSON(path, prices); err != nil {
			return fmt.Errorf("batch %d: %w", batchNum, err)
		}
		slog.Info("wrote batch file", "batch", batchNum, "path", path)
	}
	return nil
}

func writeJSON(path string, payload map[string][]export.BarJSON) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func loadTickers(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("-tickers is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var symbols []string
	if err := json.Unmarshal(data, &symbols); err != nil {
		return nil, fmt.Errorf("%s must contain a JSON array of strings: %w", path, err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s contains no symbols", path)
	}
	for i, s := range symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return symbols, nil
}

func parseDateFlag(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", v)
}
