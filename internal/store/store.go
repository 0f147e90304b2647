package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// ---------------------------------------------------------------------------
// Signal Store — observations + coin records over SQLite
// ---------------------------------------------------------------------------

const schema = `
CREATE TABLE IF NOT EXISTS observations (
    post_id     TEXT NOT NULL,
    source      TEXT NOT NULL,
    text        TEXT NOT NULL,
    observed_at TIMESTAMP NOT NULL,
    address     TEXT NOT NULL,
    PRIMARY KEY (post_id, address)
);

CREATE INDEX IF NOT EXISTS idx_observations_address ON observations(address);

CREATE TABLE IF NOT EXISTS coins (
    address      TEXT PRIMARY KEY,
    ticker       TEXT,
    platform     TEXT NOT NULL DEFAULT 'solana',
    market_cap   REAL,
    volume       REAL,
    price_change REAL,
    last_seen_at TIMESTAMP NOT NULL,
    risk_score   REAL
);
`

// Observation is one (post, address) sighting from a tracked source.
type Observation struct {
	PostID     string
	Source     string
	Text       string
	ObservedAt time.Time
	Address    string
}

// Coin is the enrichment record for one token address.
type Coin struct {
	Address     string
	Ticker      *string
	Platform    string
	MarketCap   *float64
	Volume      *float64
	PriceChange *float64
	LastSeenAt  time.Time
	RiskScore   *float64
}

// CoinUpdate carries the fields to merge into a coin record. Nil pointers
// leave the stored value untouched.
type CoinUpdate struct {
	Address     string
	Ticker      *string
	Platform    string
	MarketCap   *float64
	Volume      *float64
	PriceChange *float64
	LastSeenAt  time.Time
	RiskScore   *float64
}

// RecordResult reports the outcome of RecordObservation.
type RecordResult int

const (
	Inserted RecordResult = iota
	AlreadyPresent
)

// Store is the persistence boundary for signals. Safe for concurrent use;
// SQLite serializes writers, which keeps the score-merge invariant intact.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the signal database at path.
// Pass ":memory:" for an in-memory store in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	// A single connection sidesteps in-memory-DB-per-connection surprises
	// and SQLite's single-writer lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("store: opened")
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordObservation inserts one (post, address) pair. Every distinct pair is
// retained; repeats return AlreadyPresent.
func (s *Store) RecordObservation(ctx context.Context, obs Observation) (RecordResult, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO observations (post_id, source, text, observed_at, address)
		 VALUES (?, ?, ?, ?, ?)`,
		obs.PostID, obs.Source, obs.Text, obs.ObservedAt.UTC().Format(time.RFC3339), obs.Address,
	)
	if err != nil {
		return AlreadyPresent, fmt.Errorf("store: record observation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return AlreadyPresent, fmt.Errorf("store: rows affected: %w", err)
	}
	if affected == 0 {
		return AlreadyPresent, nil
	}
	return Inserted, nil
}

// UpsertCoin merges non-nil fields into the coin record for an address.
// A present risk_score is never replaced by an absent one.
func (s *Store) UpsertCoin(ctx context.Context, upd CoinUpdate) error {
	if upd.Platform == "" {
		upd.Platform = "solana"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coins (address, ticker, platform, market_cap, volume, price_change, last_seen_at, risk_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
		     ticker       = COALESCE(excluded.ticker, coins.ticker),
		     platform     = excluded.platform,
		     market_cap   = COALESCE(excluded.market_cap, coins.market_cap),
		     volume       = COALESCE(excluded.volume, coins.volume),
		     price_change = COALESCE(excluded.price_change, coins.price_change),
		     last_seen_at = excluded.last_seen_at,
		     risk_score   = COALESCE(excluded.risk_score, coins.risk_score)`,
		upd.Address, upd.Ticker, upd.Platform, upd.MarketCap, upd.Volume, upd.PriceChange,
		upd.LastSeenAt.UTC().Format(time.RFC3339), upd.RiskScore,
	)
	if err != nil {
		return fmt.Errorf("store: upsert coin %s: %w", upd.Address, err)
	}
	return nil
}

// Unscored returns up to limit addresses still waiting for a risk score,
// oldest sighting first.
func (s *Store) Unscored(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address FROM coins WHERE risk_score IS NULL ORDER BY last_seen_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list unscored: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("store: scan unscored: %w", err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, rows.Err()
}

// Qualified returns coins whose risk score is present and at least minScore,
// most recently seen first.
func (s *Store) Qualified(ctx context.Context, minScore float64) ([]Coin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, ticker, platform, market_cap, volume, price_change, last_seen_at, risk_score
		 FROM coins
		 WHERE risk_score IS NOT NULL AND risk_score >= ?
		 ORDER BY last_seen_at DESC`, minScore)
	if err != nil {
		return nil, fmt.Errorf("store: list qualified: %w", err)
	}
	defer rows.Close()

	var coins []Coin
	for rows.Next() {
		coin, err := scanCoin(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	return coins, rows.Err()
}

// CoinByAddress returns the coin record for an address, or nil if absent.
func (s *Store) CoinByAddress(ctx context.Context, address string) (*Coin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, ticker, platform, market_cap, volume, price_change, last_seen_at, risk_score
		 FROM coins WHERE address = ?`, address)

	coin, err := scanCoin(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coin, nil
}

// ObservationCount returns the total number of recorded observations.
func (s *Store) ObservationCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count observations: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoin(row rowScanner) (Coin, error) {
	var coin Coin
	var lastSeen string
	if err := row.Scan(&coin.Address, &coin.Ticker, &coin.Platform, &coin.MarketCap,
		&coin.Volume, &coin.PriceChange, &lastSeen, &coin.RiskScore); err != nil {
		return Coin{}, err
	}
	if ts, err := time.Parse(time.RFC3339, lastSeen); err == nil {
		coin.LastSeenAt = ts
	}
	return coin, nil
}
