// Package metrics computes performance statistics from a completed
// backtest result: return/risk ratios, drawdown analysis and trade
// aggregates. It consumes only the engine's boundary artifact.
package metrics

import (
	"math"
	"time"

	"backtest-services/services/engine"
)

// DefaultPeriodsPerYear annualizes minute bars over US equity trading
// hours (252 days of 390 minutes).
const DefaultPeriodsPerYear = 252 * 390

// PerformanceMetrics aggregates the statistics reported for one run.
type PerformanceMetrics struct {
	TotalReturn         float64    `json:"total_return"`
	AnnualizedReturn    float64    `json:"annualized_return"`
	SharpeRatio         float64    `json:"sharpe_ratio"`
	SortinoRatio        float64    `json:"sortino_ratio"`
	CalmarRatio         float64    `json:"calmar_ratio"`
	MaxDrawdown         float64    `json:"max_drawdown"`
	MaxDrawdownDuration int        `json:"max_drawdown_duration"`
	MaxDrawdownStart    *time.Time `json:"max_drawdown_start,omitempty"`
	MaxDrawdownEnd      *time.Time `json:"max_drawdown_end,omitempty"`
	Volatility          float64    `json:"volatility"`
	DownsideVolatility  float64    `json:"downside_volatility"`
	WinRate             float64    `json:"win_rate"`
	ProfitFactor        float64    `json:"profit_factor"`
	AvgTradeReturn      float64    `json:"avg_trade_return"`
	AvgWin              float64    `json:"avg_win"`
	AvgLoss             float64    `json:"avg_loss"`
	TotalTrades         int        `json:"total_trades"`
	WinningTrades       int        `json:"winning_trades"`
	LosingTrades        int        `json:"losing_trades"`
	AvgTradeDuration    float64    `json:"avg_trade_duration"`
	TotalCommission     float64    `json:"total_commission"`
	TotalSlippage       float64    `json:"total_slippage"`
	NetProfit           float64    `json:"net_profit"`
	GrossProfit         float64    `json:"gross_profit"`
	GrossLoss           float64    `json:"gross_loss"`
}

// Calculate computes the full metric set. Fewer than two equity
// samples yields zero metrics rather than an error so empty runs stay
// reportable.
func Calculate(times []time.Time, equity []float64, trades []engine.Trade, riskFreeRate, periodsPerYear float64) PerformanceMetrics {
	if len(equity) < 2 || len(times) != len(equity) {
		return PerformanceMetrics{}
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] != 0 {
			returns = append(returns, equity[i]/equity[i-1]-1)
		}
	}
	if len(returns) == 0 {
		return PerformanceMetrics{}
	}

	m := PerformanceMetrics{}
	m.TotalReturn = equity[len(equity)-1]/equity[0] - 1

	years := float64(len(returns)) / periodsPerYear
	if years > 0 && 1+m.TotalReturn > 0 {
		m.AnnualizedReturn = math.Pow(1+m.TotalReturn, 1/years) - 1
	}

	m.Volatility = sampleStd(returns) * math.Sqrt(periodsPerYear)

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) > 1 {
		m.DownsideVolatility = sampleStd(downside) * math.Sqrt(periodsPerYear)
	}

	if m.Volatility > 0 {
		m.SharpeRatio = (m.AnnualizedReturn - riskFreeRate) / m.Volatility
	}
	if m.DownsideVolatility > 0 {
		m.SortinoRatio = (m.AnnualizedReturn - riskFreeRate) / m.DownsideVolatility
	}

	dd := drawdownStats(times, equity)
	m.MaxDrawdown = dd.max
	m.MaxDrawdownDuration = dd.durationDays
	m.MaxDrawdownStart = dd.start
	m.MaxDrawdownEnd = dd.end
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
	}

	tradeStats(&m, trades)
	return m
}

func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

type ddResult struct {
	max          float64
	durationDays int
	start, end   *time.Time
}

// drawdownStats walks the curve against its running maximum, tracking
// the deepest drawdown and the longest underwater stretch.
func drawdownStats(times []time.Time, equity []float64) ddResult {
	var out ddResult

	runningMax := equity[0]
	var ddStart *time.Time
	var longest float64

	flush := func(endTs time.Time) {
		if ddStart == nil {
			return
		}
		duration := endTs.Sub(*ddStart).Seconds() / 86400
		if duration > longest {
			longest = duration
			s := *ddStart
			e := endTs
			out.start = &s
			out.end = &e
			out.durationDays = int(duration)
		}
		ddStart = nil
	}

	for i, v := range equity {
		if v > runningMax {
			runningMax = v
		}
		if runningMax == 0 {
			continue
		}
		dd := (v - runningMax) / runningMax
		if d := -dd; d > out.max {
			out.max = d
		}
		if dd < 0 {
			if ddStart == nil {
				ts := times[i]
				ddStart = &ts
			}
		} else {
			flush(times[i])
		}
	}
	flush(times[len(times)-1])
	return out
}

func tradeStats(m *PerformanceMetrics, trades []engine.Trade) {
	if len(trades) == 0 {
		return
	}

	m.TotalTrades = len(trades)
	var pnlSum, winSum, lossSum, durationSum float64
	for _, t := range trades {
		pnl := t.NetPnl
		pnlSum += pnl
		switch {
		case pnl > 0:
			m.WinningTrades++
			winSum += pnl
		case pnl < 0:
			m.LosingTrades++
			lossSum += pnl
		}
		m.TotalCommission += t.Commission
		m.TotalSlippage += t.SlippageCost
		durationSum += t.ExitTime.Sub(t.EntryTime).Minutes()
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.GrossProfit = winSum
	m.GrossLoss = math.Abs(lossSum)
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}
	m.AvgTradeReturn = pnlSum / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AvgWin = winSum / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = lossSum / float64(m.LosingTrades)
	}
	m.AvgTradeDuration = durationSum / float64(m.TotalTrades)
	m.NetProfit = m.GrossProfit - m.GrossLoss
}
