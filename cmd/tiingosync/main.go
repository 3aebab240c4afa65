// Command tiingosync runs the incremental price sync: fetch daily bars for a
// list of tickers, persist the rows not yet present in the destination,
// write JSON exports, and upload them to Google Drive.
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
	"strings"
	"syscall"
	"time"

	"tiingosync/internal/config"
	"tiingosync/internal/drive"
	"tiingosync/internal/notion"
	"tiingosync/internal/pipeline"
	"tiingosync/internal/source"
	"tiingosync/internal/source/alpaca"
	"tiingosync/internal/source/tiingo"
	"tiingosync/internal/store"
	"tiingosync/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/tiingosync.yaml", "path to YAML config file")
	tickersPath := flag.String("tickers", "", "path to JSON file containing an array of ticker symbols (required)")
	startDate := flag.String("start-date", "", "inclusive lower date bound, YYYY-MM-DD")
	endDate := flag.String("end-date", "", "inclusive upper date bound, YYYY-MM-DD")
	batchSize := flag.Int("batch-size", 0, "symbols per batch (overrides config)")
	outputDir := flag.String("output-dir", "", "directory for JSON exports (overrides config)")
	jsonPrefix := flag.String("json-prefix", "", "export filename prefix (overrides config)")
	provider := flag.String("provider", "", "price source: tiingo or alpaca (overrides config)")
	destination := flag.String("destination", "", "record store: notion or sqlite (overrides config)")
	dryRun := flag.Bool("dry-run", false, "fetch, filter, and export, but skip record creation and uploads")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *batchSize != 0 {
		cfg.Sync.BatchSize = *batchSize
	}
	if *outputDir != "" {
		cfg.Sync.OutputDir = *outputDir
	}
	if *jsonPrefix != "" {
		cfg.Sync.JSONPrefix = *jsonPrefix
	}
	if *provider != "" {
		cfg.Sync.Provider = *provider
	}
	if *destination != "" {
		cfg.Sync.Destination = *destination
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
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

	src := newSource(cfg)

	p, closeStore, err := buildPipeline(ctx, cfg, src, *dryRun)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}
	defer closeStore()

	slog.Info("starting sync",
		"provider", cfg.Sync.Provider,
		"destination", cfg.Sync.Destination,
		"symbols", len(symbols),
		"batchSize", cfg.Sync.BatchSize,
		"dryRun", *dryRun)

	written, err := p.Sync(ctx, symbols, start, end, *dryRun)
	for _, path := range written {
		slog.Info("export written", "path", path)
	}
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}
	slog.Info("sync complete", "exports", len(written))
}

// loadConfig tolerates a missing file at the default path so pure-env runs
// work; an explicitly requested file must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "config/tiingosync.yaml" {
		return config.Load("")
	}
	return config.Load(path)
}

// loadTickers reads a JSON array of symbols and uppercases them.
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

func newSource(cfg *config.Config) source.PriceSource {
	if cfg.Sync.Provider == "alpaca" {
		return alpaca.NewSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	}
	return tiingo.NewClient(tiingo.ClientOpts{
		APIKey:          cfg.Tiingo.APIKey,
		BaseURL:         cfg.Tiingo.BaseURL,
		Timeout:         time.Duration(cfg.Tiingo.TimeoutSec) * time.Second,
		MaxWorkers:      cfg.Tiingo.MaxWorkers,
		RateLimitPerMin: cfg.Tiingo.RateLimitPerMin,
	})
}

// buildPipeline wires the record store, uploader, and optional archive for
// the configured destination. The returned func releases store resources.
func buildPipeline(ctx context.Context, cfg *config.Config, src source.PriceSource, dryRun bool) (*pipeline.Pipeline, func(), error) {
	pcfg := pipeline.Config{
		BatchSize:     cfg.Sync.BatchSize,
		OutputDir:     cfg.Sync.OutputDir,
		JSONPrefix:    cfg.Sync.JSONPrefix,
		FilterWorkers: cfg.Sync.FilterWorkers,
	}

	var uploader pipeline.Uploader
	if dryRun || cfg.Drive.ServiceAccountFile == "" {
		uploader = noopUploader{}
	} else {
		up, err := drive.NewUploader(ctx, cfg.Drive.ServiceAccountFile, cfg.Drive.FolderID)
		if err != nil {
			return nil, nil, err
		}
		uploader = up
	}

	var p *pipeline.Pipeline
	closeStore := func() {}

	switch cfg.Sync.Destination {
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		closeStore = func() { st.Close() }
		p = pipeline.New(src, st, uploader, pcfg)
		p.SetStoreSessionFactory(func() pipeline.RecordStore { return st.Clone() })
	default:
		props := notion.DefaultProperties()
		if cfg.Notion.TickerProperty != "" {
			props.Ticker = cfg.Notion.TickerProperty
		}
		if cfg.Notion.DateProperty != "" {
			props.Date = cfg.Notion.DateProperty
		}
		client := notion.NewClient(notion.ClientOpts{
			APIKey:     cfg.Notion.APIKey,
			DatabaseID: cfg.Notion.DatabaseID,
			Properties: props,
			PageSize:   cfg.Notion.PageSize,
			MaxPages:   cfg.Notion.MaxPages,
		})
		p = pipeline.New(src, client, uploader, pcfg)
		// Each filter worker gets its own HTTP session.
		p.SetStoreSessionFactory(func() pipeline.RecordStore { return client.Clone() })
	}

	if cfg.Storage.ArchiveDir != "" {
		p.SetArchive(store.NewBarArchive(cfg.Storage.ArchiveDir))
	}
	return p, closeStore, nil
}

// noopUploader stands in when uploads are disabled (dry runs, or no Drive
// credentials configured).
type noopUploader struct{}

func (noopUploader) Upload(_ context.Context, path string) (drive.FileInfo, error) {
	slog.Info("upload skipped", "path", path)
	return drive.FileInfo{}, nil
}
