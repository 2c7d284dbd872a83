// Package report persists backtest artifacts to a per-run directory:
// summary.json, trades.json, equity.csv and optionally equity.arrow.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backtest-services/services/arrowio"
	"backtest-services/services/engine"
	"backtest-services/services/metrics"
)

// Writer drops run artifacts under a base directory.
type Writer struct {
	baseDir    string
	writeArrow bool
	log        *zap.Logger
}

// NewWriter builds a writer rooted at baseDir. The directory is created
// on first Write.
func NewWriter(baseDir string, writeArrow bool, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{baseDir: baseDir, writeArrow: writeArrow, log: log}
}

// Summary is the top-level summary.json payload.
type Summary struct {
	RunID       string                     `json:"run_id"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Config      engine.Config              `json:"config"`
	Metrics     metrics.PerformanceMetrics `json:"metrics"`
	TradeCount  int                        `json:"trade_count"`
	FinalEquity float64                    `json:"final_equity"`
}

// Write persists one backtest run and returns the run directory path.
func (w *Writer) Write(result *engine.Result, perf metrics.PerformanceMetrics) (string, error) {
	runID := uuid.NewString()
	dir := filepath.Join(w.baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	summary := Summary{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Config:      result.Config,
		Metrics:     perf,
		TradeCount:  len(result.Trades),
		FinalEquity: result.FinalEquity(),
	}
	if err := writeJSON(filepath.Join(dir, "summary.json"), summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "trades.json"), result.Trades); err != nil {
		return "", err
	}
	if err := writeEquityCSV(filepath.Join(dir, "equity.csv"), result.EquityCurve); err != nil {
		return "", err
	}
	if w.writeArrow && len(result.EquityCurve) > 0 {
		if err := writeEquityArrow(filepath.Join(dir, "equity.arrow"), result.EquityCurve); err != nil {
			return "", err
		}
	}

	w.log.Info("report written",
		zap.String("run_id", runID),
		zap.String("dir", dir),
		zap.Int("trades", len(result.Trades)),
	)
	return dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeEquityCSV(path string, curve []engine.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create equity.csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"timestamp", "cash", "equity"}); err != nil {
		return err
	}
	for _, p := range curve {
		row := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Cash, 'f', -1, 64),
			strconv.FormatFloat(p.Equity, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeEquityArrow(path string, curve []engine.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create equity.arrow: %w", err)
	}
	defer f.Close()
	return arrowio.EncodeEquityCurve(f, curve)
}
