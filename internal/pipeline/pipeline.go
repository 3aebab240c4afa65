// Package pipeline contains the sync orchestrator: the batch loop that
// fetches daily bars, filters out rows already persisted in the destination
// record store, writes JSON exports, persists the remainder, and uploads the
// exports to object storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tiingosync/internal/batch"
	"tiingosync/internal/domain"
	"tiingosync/internal/drive"
	"tiingosync/internal/export"
	"tiingosync/internal/source"
)

// RecordStore is the destination datastore consulted for already-persisted
// rows and written to for new ones. Implementations provide no dedup of
// their own; dedup is the orchestrator's responsibility via
// QueryExistingDates performed immediately before CreateRows.
type RecordStore interface {
	// QueryExistingDates returns the set of ISO date strings already
	// persisted for symbol within the optional inclusive [start, end] range.
	QueryExistingDates(ctx context.Context, symbol string, start, end time.Time) (map[string]struct{}, error)

	// CreateRows persists bars as individual records, skipping and logging
	// individual row failures. The error return is reserved for run-level
	// failures, which the orchestrator treats as fatal.
	CreateRows(ctx context.Context, bars []domain.PriceBar) ([]string, error)
}

// Uploader sends a written export file to object storage.
type Uploader interface {
	Upload(ctx context.Context, path string) (drive.FileInfo, error)
}

// BarArchiver optionally retains filtered bars in a local archive.
type BarArchiver interface {
	WriteBars(ctx context.Context, bars []domain.PriceBar) error
}

// Config controls batching and export behaviour.
type Config struct {
	BatchSize     int    // symbols per batch, default 10
	OutputDir     string // default "exports"
	JSONPrefix    string // default "tiingo_prices"
	FilterWorkers int    // existing-dates query fan-out, default 8
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.OutputDir == "" {
		c.OutputDir = "exports"
	}
	if c.JSONPrefix == "" {
		c.JSONPrefix = "tiingo_prices"
	}
	if c.FilterWorkers <= 0 {
		c.FilterWorkers = 8
	}
	return c
}

// Pipeline coordinates the price source, record store, export writer, and
// uploader. It owns no persistent state: all durable state lives in the
// record store and on disk, which keeps runs idempotent.
type Pipeline struct {
	source       source.PriceSource
	store        RecordStore
	storeSession func() RecordStore
	uploader     Uploader
	exporter     *export.Writer
	archive      BarArchiver
	cfg          Config
	log          *slog.Logger
}

// New creates a Pipeline. The store is also used as the default per-worker
// session; use SetStoreSessionFactory when the store needs per-worker
// connection isolation.
func New(src source.PriceSource, store RecordStore, uploader Uploader, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		source:       src,
		store:        store,
		storeSession: func() RecordStore { return store },
		uploader:     uploader,
		exporter:     export.NewWriter(cfg.OutputDir, cfg.JSONPrefix),
		cfg:          cfg,
		log:          slog.Default().With("component", "pipeline"),
	}
}

// SetStoreSessionFactory installs the factory used to hand each filtering
// worker its own record-store session. Each worker invokes it lazily on
// first use and keeps the session for the worker's lifetime.
func (p *Pipeline) SetStoreSessionFactory(fn func() RecordStore) {
	p.storeSession = fn
}

// SetArchive enables local retention of filtered bars.
func (p *Pipeline) SetArchive(a BarArchiver) {
	p.archive = a
}

// Sync drives the batch loop over symbols. Zero start/end times mean no
// lower/upper bound and are passed through unset to both gateways. With
// dryRun set, record-store writes and uploads are skipped but exports are
// still written. The returned paths cover every fully processed batch; they
// are valid even when a later batch fails mid-run.
func (p *Pipeline) Sync(ctx context.Context, symbols []string, start, end time.Time, dryRun bool) ([]string, error) {
	batches, err := batch.Chunked(slices.Values(symbols), p.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	var written []string
	batchNum := 0
	for group := range batches {
		batchNum++
		if err := ctx.Err(); err != nil {
			return written, err
		}
		p.log.Info("processing batch", "batch", batchNum, "symbols", len(group))

		prices, err := p.source.FetchBulk(ctx, group, start, end)
		if err != nil {
			return written, fmt.Errorf("batch %d: fetching prices: %w", batchNum, err)
		}

		filtered, err := p.filterNewPrices(ctx, prices, start, end)
		if err != nil {
			return written, fmt.Errorf("batch %d: %w", batchNum, err)
		}

		total := 0
		for _, bars := range filtered {
			total += len(bars)
		}
		if total == 0 {
			p.log.Info("batch has no new bars, skipping", "batch", batchNum)
			continue
		}

		if !dryRun {
			for _, symbol := range sortedKeys(filtered) {
				bars := filtered[symbol]
				if len(bars) == 0 {
					continue
				}
				ids, err := p.store.CreateRows(ctx, bars)
				if err != nil {
					return written, fmt.Errorf("batch %d: creating rows for %s: %w", batchNum, symbol, err)
				}
				p.log.Info("persisted rows", "batch", batchNum, "symbol", symbol, "created", len(ids))
			}
		}

		path, err := p.exporter.Write(filtered)
		if err != nil {
			return written, fmt.Errorf("batch %d: writing export: %w", batchNum, err)
		}
		p.log.Info("wrote export", "batch", batchNum, "path", path, "bars", total)

		if p.archive != nil {
			if err := p.archiveBars(ctx, filtered); err != nil {
				p.log.Warn("archiving bars failed", "batch", batchNum, "err", err)
			}
		}

		if !dryRun {
			info, err := p.uploader.Upload(ctx, path)
			if err != nil {
				return written, fmt.Errorf("batch %d: uploading %s: %w", batchNum, filepath.Base(path), err)
			}
			p.log.Info("uploaded export", "batch", batchNum, "id", info.ID, "link", info.Link)
		}

		written = append(written, path)
	}
	return written, nil
}

// filterNewPrices queries existing dates for every symbol concurrently and
// keeps only the bars whose date is absent from the destination. The fan-out
// joins fully before returning; the first query failure cancels the rest and
// propagates.
func (p *Pipeline) filterNewPrices(ctx context.Context, prices map[string][]domain.PriceBar, start, end time.Time) (map[string][]domain.PriceBar, error) {
	filtered := make(map[string][]domain.PriceBar, len(prices))
	if len(prices) == 0 {
		return filtered, nil
	}

	jobs := make(chan string)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for symbol := range prices {
			select {
			case jobs <- symbol:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var mu sync.Mutex
	workers := min(p.cfg.FilterWorkers, len(prices))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			// Worker-scoped store session, acquired lazily on first use.
			var session RecordStore
			for symbol := range jobs {
				if session == nil {
					session = p.storeSession()
				}
				existing, err := session.QueryExistingDates(ctx, symbol, start, end)
				if err != nil {
					return fmt.Errorf("filtering %s: %w", symbol, err)
				}

				bars := prices[symbol]
				kept := make([]domain.PriceBar, 0, len(bars))
				for _, bar := range bars {
					if _, ok := existing[bar.DateString()]; !ok {
						kept = append(kept, bar)
					}
				}
				mu.Lock()
				filtered[symbol] = kept
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filtered, nil
}

func (p *Pipeline) archiveBars(ctx context.Context, filtered map[string][]domain.PriceBar) error {
	var all []domain.PriceBar
	for _, bars := range filtered {
		all = append(all, bars...)
	}
	if len(all) == 0 {
		return nil
	}
	return p.archive.WriteBars(ctx, all)
}

func sortedKeys(m map[string][]domain.PriceBar) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
