// Command strategy_runner backtests the momentum strategy over local
// CSV bars and writes a report directory. With -walkforward it runs
// rolling out-of-sample validation instead of a single pass.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"backtest-services/services/engine"
	"backtest-services/services/market"
	"backtest-services/services/metrics"
	"backtest-services/services/report"
	"backtest-services/services/walkforward"
	"backtest-services/strategies"
)

func main() {
	csvPaths := flag.String("csv", "", "Comma-separated symbol=path CSV pairs, e.g. BTCUSDT=./btc.csv")
	reportDir := flag.String("report-dir", "reports", "Base directory for run artifacts")
	capital := flag.Float64("capital", 100000, "Initial capital")
	commission := flag.Float64("commission", 0.005, "Commission per share")
	slippageBps := flag.Float64("slippage-bps", 5.0, "Slippage in basis points")
	fillNextBar := flag.Bool("fill-next-bar", true, "Fill orders at the next bar open")
	fractional := flag.Bool("fractional", true, "Allow fractional share quantities")
	maxPosPct := flag.Float64("max-pos-pct", 1.0, "Max position size as a fraction of equity")
	lookback := flag.Int("lookback", 5, "Momentum lookback in bars")
	longThr := flag.Float64("long-threshold", 0.001, "Momentum long entry threshold")
	shortThr := flag.Float64("short-threshold", -0.001, "Momentum short entry threshold")
	runWalkforward := flag.Bool("walkforward", false, "Run walk-forward validation instead of a single backtest")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *csvPaths == "" {
		logger.Fatal("no input data: pass -csv symbol=path[,symbol=path...]")
	}

	data := make(map[string]*market.Series)
	for _, pair := range strings.Split(*csvPaths, ",") {
		sym, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			logger.Fatal("malformed -csv entry", zap.String("entry", pair))
		}
		series, err := market.LoadCSV(path, sym)
		if err != nil {
			logger.Fatal("csv load failed", zap.String("path", path), zap.Error(err))
		}
		data[sym] = series
		logger.Info("bars loaded", zap.String("symbol", sym), zap.Int("rows", series.Len()))
	}

	cfg := engine.Config{
		InitialCapital:        *capital,
		CommissionPerShare:    *commission,
		SlippageBps:           *slippageBps,
		FillOnNextBar:         *fillNextBar,
		AllowFractionalShares: *fractional,
		MaxPositionPct:        *maxPosPct,
	}
	momCfg := strategies.DefaultMomentumConfig()
	momCfg.LongThreshold = *longThr
	momCfg.ShortThreshold = *shortThr

	pipeline := func(s *market.Series) *market.Frame {
		return momentumFrame(s, momCfg.MomentumFeature, *lookback)
	}

	if *runWalkforward {
		runValidation(logger, cfg, momCfg, data, pipeline)
		return
	}

	features := make(map[string]*market.Frame, len(data))
	for sym, s := range data {
		features[sym] = pipeline(s)
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}
	result, err := eng.Run(data, strategies.NewMomentum(momCfg), features, nil)
	if err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}

	times, equity := result.EquitySeries()
	perf := metrics.Calculate(times, equity, result.Trades, cfg.RiskFreeRate, metrics.DefaultPeriodsPerYear)

	dir, err := report.NewWriter(*reportDir, true, logger).Write(result, perf)
	if err != nil {
		logger.Fatal("report write failed", zap.Error(err))
	}

	logger.Info("backtest complete",
		zap.String("report_dir", dir),
		zap.Float64("final_equity", result.FinalEquity()),
		zap.Float64("total_return", perf.TotalReturn),
		zap.Float64("sharpe", perf.SharpeRatio),
		zap.Float64("max_drawdown", perf.MaxDrawdown),
		zap.Int("trades", len(result.Trades)),
	)
}

func runValidation(
	logger *zap.Logger,
	cfg engine.Config,
	momCfg strategies.MomentumConfig,
	data map[string]*market.Series,
	pipeline walkforward.FeaturePipeline,
) {
	v, err := walkforward.New(walkforward.DefaultConfig(), cfg, logger)
	if err != nil {
		logger.Fatal("validator init failed", zap.Error(err))
	}
	res, err := v.Run(data, func() engine.Strategy { return strategies.NewMomentum(momCfg) }, nil, pipeline)
	if err != nil {
		logger.Fatal("walk-forward failed", zap.Error(err))
	}
	logger.Info("walk-forward complete",
		zap.Int("windows", len(res.Windows)),
		zap.Float64("oos_sharpe", res.CombinedMetrics.SharpeRatio),
		zap.Float64("oos_return", res.CombinedMetrics.TotalReturn),
		zap.Float64("consistency", res.TestSummary.Consistency),
	)
}

// momentumFrame derives the trailing log-return feature the momentum
// strategy consumes. Bars inside the lookback warmup carry NaN so the
// strategy stays flat there.
func momentumFrame(s *market.Series, column string, lookback int) *market.Frame {
	times := make([]time.Time, s.Len())
	values := make([]float64, s.Len())
	for i, bar := range s.Bars {
		times[i] = bar.Timestamp
		if i < lookback || s.Bars[i-lookback].Close <= 0 || bar.Close <= 0 {
			values[i] = math.NaN()
			continue
		}
		values[i] = math.Log(bar.Close / s.Bars[i-lookback].Close)
	}
	frame, err := market.NewFrame(times, map[string][]float64{column: values})
	if err != nil {
		// Lengths are constructed equal above.
		panic(err)
	}
	return frame
}
