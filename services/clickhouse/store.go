// Package clickhouse persists and loads canonical OHLCV bars. The
// engine never talks to it directly; callers materialize data into
// market.Series before a run.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-services/services/market"
)

// Config locates the canonical bar table.
type Config struct {
	Addr     string
	Database string
	Table    string
	Username string
	Password string
}

// DefaultConfig matches the local research deployment.
func DefaultConfig() Config {
	return Config{
		Addr:     "localhost:9000",
		Database: "backtest",
		Table:    "data",
		Username: "backtest",
	}
}

// Store wraps a native-protocol connection to the bar table.
type Store struct {
	conn driver.Conn
	cfg  Config
	log  *zap.Logger
}

// Open connects and pings. A nil logger becomes a no-op one.
func Open(cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Store{conn: conn, cfg: cfg, log: log}, nil
}

// Close releases the connection.
func (s *Store) Close() error { return s.conn.Close() }

// EnsureSchema creates the database and bar table if missing. Decimal
// columns keep ingestion lossless; conversion to float64 happens only
// at the engine boundary.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.cfg.Database)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Decimal(38, 18),
			high Decimal(38, 18),
			low Decimal(38, 18),
			close Decimal(38, 18),
			volume Decimal(38, 18),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192
	`, s.cfg.Database, s.cfg.Table)
	return s.conn.Exec(ctx, ddl)
}

// InsertBars writes one symbol's bars in a deduplicated batch.
func (s *Store) InsertBars(ctx context.Context, symbol, interval string, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s.%s SETTINGS insert_deduplicate=1", s.cfg.Database, s.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	version := uint64(time.Now().UTC().UnixNano())
	for _, b := range bars {
		err := batch.Append(
			symbol,
			interval,
			uint64(b.Timestamp.UnixMilli()),
			decimal.NewFromFloat(b.Open),
			decimal.NewFromFloat(b.High),
			decimal.NewFromFloat(b.Low),
			decimal.NewFromFloat(b.Close),
			decimal.NewFromFloat(b.Volume),
			version,
		)
		if err != nil {
			return fmt.Errorf("append bar: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	s.log.Info("bars inserted",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("rows", len(bars)),
	)
	return nil
}

// LoadBars materializes per-symbol series for the engine, ordered by
// timestamp.
func (s *Store) LoadBars(ctx context.Context, symbols []string, interval string, start, end time.Time) (map[string]*market.Series, error) {
	query := fmt.Sprintf(`
		SELECT symbol, open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol IN (?) AND interval = ? AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY symbol, open_time_ms
	`, s.cfg.Database, s.cfg.Table)

	rows, err := s.conn.Query(ctx, query, symbols, interval,
		uint64(start.UnixMilli()), uint64(end.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	barsBySymbol := make(map[string][]market.Bar, len(symbols))
	for rows.Next() {
		var symbol string
		var openMs uint64
		var open, high, low, closeP, volume decimal.Decimal
		if err := rows.Scan(&symbol, &openMs, &open, &high, &low, &closeP, &volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		barsBySymbol[symbol] = append(barsBySymbol[symbol], market.Bar{
			Timestamp: time.UnixMilli(int64(openMs)).UTC(),
			Open:      open.InexactFloat64(),
			High:      high.InexactFloat64(),
			Low:       low.InexactFloat64(),
			Close:     closeP.InexactFloat64(),
			Volume:    volume.InexactFloat64(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}

	out := make(map[string]*market.Series, len(barsBySymbol))
	for symbol, bars := range barsBySymbol {
		out[symbol] = market.NewSeries(symbol, bars)
		s.log.Debug("bars loaded", zap.String("symbol", symbol), zap.Int("rows", len(bars)))
	}
	return out, nil
}
