// Command ingest_bars loads local CSV bars into the canonical
// ClickHouse table so the server can backtest against them.
package main

import (
	"context"
	"flag"
	"strings"

	"go.uber.org/zap"

	"backtest-services/services/clickhouse"
	"backtest-services/services/market"
)

func main() {
	csvPaths := flag.String("csv", "", "Comma-separated symbol=path CSV pairs")
	interval := flag.String("interval", "1m", "Bar interval label")
	addr := flag.String("ch-addr", "localhost:9000", "ClickHouse native address")
	database := flag.String("db", "backtest", "ClickHouse database")
	table := flag.String("table", "data", "ClickHouse table")
	user := flag.String("ch-user", "backtest", "ClickHouse user")
	pass := flag.String("ch-pass", "backtest123", "ClickHouse password")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *csvPaths == "" {
		logger.Fatal("no input data: pass -csv symbol=path[,symbol=path...]")
	}

	store, err := clickhouse.Open(clickhouse.Config{
		Addr:     *addr,
		Database: *database,
		Table:    *table,
		Username: *user,
		Password: *pass,
	}, logger)
	if err != nil {
		logger.Fatal("clickhouse connect failed", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	for _, pair := range strings.Split(*csvPaths, ",") {
		sym, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			logger.Fatal("malformed -csv entry", zap.String("entry", pair))
		}
		series, err := market.LoadCSV(path, sym)
		if err != nil {
			logger.Fatal("csv load failed", zap.String("path", path), zap.Error(err))
		}
		if err := store.InsertBars(ctx, sym, *interval, series.Bars); err != nil {
			logger.Fatal("insert failed", zap.String("symbol", sym), zap.Error(err))
		}
	}
	logger.Info("ingest complete")
}
