package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tiingosync/internal/domain"
)

func priceBar(symbol, date string, adjClose *float64) domain.PriceBar {
	d, _ := time.Parse("2006-01-02", date)
	return domain.PriceBar{
		Symbol: symbol, Date: d,
		Open: 1, Close: 2, High: 3, Low: 0.5, Volume: 100,
		AdjClose: adjClose,
	}
}

// ---------------------------------------------------------------------------
// SQLiteStore
// ---------------------------------------------------------------------------

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteCreateAndQuery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	adj := 1.9
	ids, err := st.CreateRows(ctx, []domain.PriceBar{
		priceBar("AAPL", "2024-01-02", &adj),
		priceBar("AAPL", "2024-01-03", nil),
		priceBar("MSFT", "2024-01-02", nil),
	})
	if err != nil {
		t.Fatalf("CreateRows: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}

	seen, err := st.QueryExistingDates(ctx, "AAPL", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("QueryExistingDates: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("AAPL dates = %d, want 2", len(seen))
	}
	if _, ok := seen["2024-01-02"]; !ok {
		t.Error("missing 2024-01-02")
	}

	// MSFT rows must not leak into the AAPL query.
	if _, ok := seen["2024-01-04"]; ok {
		t.Error("unexpected date present")
	}
}

func TestSQLiteQueryDateBounds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateRows(ctx, []domain.PriceBar{
		priceBar("AAPL", "2024-01-02", nil),
		priceBar("AAPL", "2024-01-10", nil),
		priceBar("AAPL", "2024-01-20", nil),
	}); err != nil {
		t.Fatalf("CreateRows: %v", err)
	}

	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	seen, err := st.QueryExistingDates(ctx, "AAPL", start, end)
	if err != nil {
		t.Fatalf("QueryExistingDates: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("got %d dates, want 1", len(seen))
	}
	if _, ok := seen["2024-01-10"]; !ok {
		t.Error("bounded query dropped the in-range date")
	}
}

func TestSQLiteDuplicateRowSkipped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateRows(ctx, []domain.PriceBar{priceBar("AAPL", "2024-01-02", nil)}); err != nil {
		t.Fatalf("CreateRows: %v", err)
	}

	// The duplicate violates UNIQUE(symbol, trade_date) and is skipped, not
	// fatal; the sibling row still lands.
	ids, err := st.CreateRows(ctx, []domain.PriceBar{
		priceBar("AAPL", "2024-01-02", nil),
		priceBar("AAPL", "2024-01-03", nil),
	})
	if err != nil {
		t.Fatalf("CreateRows: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("got %d ids, want 1", len(ids))
	}
}

// ---------------------------------------------------------------------------
// BarArchive
// ---------------------------------------------------------------------------

func TestBarArchivePath(t *testing.T) {
	a := NewBarArchive("/data")
	want := filepath.Join("/data", "daily", "AAPL", "2024.parquet")
	if got := a.barPath("aapl", 2024); got != want {
		t.Errorf("barPath = %q, want %q", got, want)
	}
}

func TestBarArchiveWriteRead(t *testing.T) {
	a := NewBarArchive(t.TempDir())
	ctx := context.Background()

	adj := 1.9
	bars := []domain.PriceBar{
		priceBar("AAPL", "2024-01-02", &adj),
		priceBar("AAPL", "2024-01-03", nil),
	}
	if err := a.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := a.ReadBars(ctx, "AAPL", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bars, want 2", len(got))
	}
	if got[0].DateString() != "2024-01-02" {
		t.Errorf("first bar date = %s", got[0].DateString())
	}
	if got[0].AdjClose == nil || *got[0].AdjClose != 1.9 {
		t.Errorf("adjClose not preserved: %v", got[0].AdjClose)
	}
	if got[1].AdjClose != nil {
		t.Error("nil adjClose not preserved")
	}
}

func TestBarArchiveMergeDedupes(t *testing.T) {
	a := NewBarArchive(t.TempDir())
	ctx := context.Background()

	if err := a.WriteBars(ctx, []domain.PriceBar{priceBar("AAPL", "2024-01-02", nil)}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	// Re-writing the same day plus a new one merges instead of duplicating.
	updated := priceBar("AAPL", "2024-01-02", nil)
	updated.Close = 42
	if err := a.WriteBars(ctx, []domain.PriceBar{updated, priceBar("AAPL", "2024-01-03", nil)}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := a.ReadBars(ctx, "AAPL", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bars, want 2", len(got))
	}
	if got[0].Close != 42 {
		t.Errorf("incoming record should win the merge: close = %v", got[0].Close)
	}
}

func TestBarArchiveListSymbols(t *testing.T) {
	a := NewBarArchive(t.TempDir())
	ctx := context.Background()

	if err := a.WriteBars(ctx, []domain.PriceBar{
		priceBar("MSFT", "2024-01-02", nil),
		priceBar("AAPL", "2024-01-02", nil),
	}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := a.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Errorf("symbols = %v", symbols)
	}
}

func TestBarArchiveEmptyDir(t *testing.T) {
	a := NewBarArchive(t.TempDir())
	symbols, err := a.ListSymbols(context.Background())
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if symbols != nil {
		t.Errorf("symbols = %v, want nil", symbols)
	}
}
