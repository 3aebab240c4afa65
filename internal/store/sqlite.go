// Package store holds the local persistence backends: a SQLite record store
// usable as an alternative sync destination, and a Parquet archive for
// retaining filtered bars on disk.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tiingosync/internal/domain"
	"tiingosync/internal/pipeline"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ pipeline.RecordStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS price_bars (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol     TEXT NOT NULL,
	trade_date TEXT NOT NULL,
	open       REAL NOT NULL,
	close      REAL NOT NULL,
	high       REAL NOT NULL,
	low        REAL NOT NULL,
	volume     REAL NOT NULL,
	adj_close  REAL,
	UNIQUE (symbol, trade_date)
);
`

// SQLiteStore is a record store backed by a local SQLite database. *sql.DB is
// already safe for concurrent use, so the same store serves as every filter
// worker's session.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the price_bars table exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}
	return &SQLiteStore{
		db:  db,
		log: slog.Default().With("store", "sqlite"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Clone returns the store itself: *sql.DB already pools connections safely
// across concurrent workers, so no per-worker session is needed.
func (s *SQLiteStore) Clone() *SQLiteStore {
	return s
}

// QueryExistingDates returns the dates already stored for symbol within the
// optional inclusive [start, end] range.
func (s *SQLiteStore) QueryExistingDates(ctx context.Context, symbol string, start, end time.Time) (map[string]struct{}, error) {
	query := `SELECT trade_date FROM price_bars WHERE symbol = ?`
	args := []any{symbol}
	if !start.IsZero() {
		query += ` AND trade_date >= ?`
		args = append(args, start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		query += ` AND trade_date <= ?`
		args = append(args, end.Format("2006-01-02"))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying dates for %s: %w", symbol, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("store: scanning date for %s: %w", symbol, err)
		}
		seen[d] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: reading dates for %s: %w", symbol, err)
	}
	return seen, nil
}

// CreateRows inserts bars as individual records. A failed insert is logged
// and skipped; the remaining bars are still attempted. Returned IDs are the
// database row IDs of the inserted records, in input order.
func (s *SQLiteStore) CreateRows(ctx context.Context, bars []domain.PriceBar) ([]string, error) {
	if len(bars) == 0 {
		return nil, nil
	}

	const insert = `INSERT INTO price_bars
		(symbol, trade_date, open, close, high, low, volume, adj_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	ids := make([]string, 0, len(bars))
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.db.ExecContext(ctx, insert,
			bar.Symbol, bar.DateString(),
			bar.Open, bar.Close, bar.High, bar.Low, bar.Volume,
			adjCloseArg(bar))
		if err != nil {
			s.log.Warn("skipping row after insert failure",
				"symbol", bar.Symbol, "date", bar.DateString(), "err", err)
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			s.log.Warn("inserted row without id", "symbol", bar.Symbol, "err", err)
			continue
		}
		ids = append(ids, fmt.Sprintf("%d", id))
	}
	return ids, nil
}

func adjCloseArg(bar domain.PriceBar) any {
	if bar.AdjClose == nil {
		return nil
	}
	return *bar.AdjClose
}
