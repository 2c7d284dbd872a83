package engine

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"backtest-services/services/market"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func minuteBars(symbol string, opens ...float64) *market.Series {
	bars := make([]market.Bar, len(opens))
	for i, o := range opens {
		bars[i] = market.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      o,
			High:      o * 1.01,
			Low:       o * 0.99,
			Close:     o,
			Volume:    1000,
		}
	}
	return market.NewSeries(symbol, bars)
}

// scriptStrategy emits a fixed signal per timestamp offset (in bars
// from t0). Deterministic by construction.
type scriptStrategy struct {
	symbol string
	steps  map[int]Signal
	err    error
}

func (s *scriptStrategy) GenerateSignals(_ *market.Frame, ts time.Time, _ []float64) ([]Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	step := int(ts.Sub(t0) / time.Minute)
	sig, ok := s.steps[step]
	if !ok {
		return nil, nil
	}
	sig.Timestamp = ts
	sig.Symbol = s.symbol
	return []Signal{sig}, nil
}

func zeroCostConfig() Config {
	cfg := DefaultConfig()
	cfg.CommissionPerShare = 0
	cfg.SlippageBps = 0
	return cfg
}

func mustRun(t *testing.T, cfg Config, data map[string]*market.Series, strat Strategy) *Result {
	t.Helper()
	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := eng.Run(data, strat, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }},
		{"negative commission", func(c *Config) { c.CommissionPerShare = -1 }},
		{"negative slippage", func(c *Config) { c.SlippageBps = -0.5 }},
		{"zero position pct", func(c *Config) { c.MaxPositionPct = 0 }},
		{"position pct above one", func(c *Config) { c.MaxPositionPct = 1.5 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if _, err := New(cfg, nil); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestEmptyDataProducesEmptyResult(t *testing.T) {
	res := mustRun(t, DefaultConfig(), map[string]*market.Series{}, &scriptStrategy{})
	if len(res.EquityCurve) != 0 || len(res.Trades) != 0 {
		t.Fatalf("expected empty result, got %d equity points, %d trades", len(res.EquityCurve), len(res.Trades))
	}
}

func TestZeroSignalsConstantEquity(t *testing.T) {
	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 101, 99, 102)}
	res := mustRun(t, DefaultConfig(), data, &scriptStrategy{symbol: "AAPL"})
	if len(res.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(res.Trades))
	}
	if len(res.EquityCurve) != 4 {
		t.Fatalf("expected 4 equity points, got %d", len(res.EquityCurve))
	}
	for _, p := range res.EquityCurve {
		if p.Equity != 100000.0 {
			t.Fatalf("equity at %v = %v, want initial capital", p.Timestamp, p.Equity)
		}
	}
}

func TestNextBarFillScenario(t *testing.T) {
	cfg := zeroCostConfig()
	cfg.FillOnNextBar = true

	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 102, 104)}
	strat := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionLong, Strength: 1, Size: 10000},
		1: {Direction: DirectionFlat},
	}}
	res := mustRun(t, cfg, data, strat)

	if len(res.Trades) != 1 {
		t.Fatalf("expected exactly one trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.EntryPrice != 102 {
		t.Errorf("entry price = %v, want next-bar open 102", tr.EntryPrice)
	}
	if want := 10000.0 / 102.0; math.Abs(tr.Quantity-want) > 1e-12 {
		t.Errorf("quantity = %v, want %v", tr.Quantity, want)
	}
	if tr.ExitPrice != 104 {
		t.Errorf("exit price = %v, want 104", tr.ExitPrice)
	}
	if tr.EntryTime != t0.Add(time.Minute) || tr.ExitTime != t0.Add(2*time.Minute) {
		t.Errorf("trade times = %v..%v", tr.EntryTime, tr.ExitTime)
	}
}

func TestSlippageAdjustsFillsExactly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommissionPerShare = 0.01
	cfg.SlippageBps = 10
	cfg.FillOnNextBar = false

	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 100)}
	long := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionLong, Strength: 1, Size: 10000},
	}}
	// Expectations use the same runtime float64 arithmetic as the fill
	// path; untyped-constant forms like 100/1.001 round differently.
	slipMult := 1 + cfg.SlippageBps/10000

	res := mustRun(t, cfg, data, long)
	pos := res.PositionsHistory[1].Positions["AAPL"]
	if want := 100 * slipMult; pos.AvgPrice != want {
		t.Errorf("buy fill = %v, want %v", pos.AvgPrice, want)
	}

	short := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionShort, Strength: 1, Size: 10000},
	}}
	res = mustRun(t, cfg, data, short)
	pos = res.PositionsHistory[1].Positions["AAPL"]
	if want := 100 / slipMult; pos.AvgPrice != want {
		t.Errorf("sell fill = %v, want %v", pos.AvgPrice, want)
	}
}

func TestDisjointSymbolTimelines(t *testing.T) {
	a := market.NewSeries("AAA", []market.Bar{
		{Timestamp: t0, Open: 10, High: 10, Low: 10, Close: 10},
		{Timestamp: t0.Add(2 * time.Minute), Open: 11, High: 11, Low: 11, Close: 11},
	})
	b := market.NewSeries("BBB", []market.Bar{
		{Timestamp: t0.Add(time.Minute), Open: 20, High: 20, Low: 20, Close: 20},
		{Timestamp: t0.Add(3 * time.Minute), Open: 21, High: 21, Low: 21, Close: 21},
	})
	data := map[string]*market.Series{"AAA": a, "BBB": b}

	res := mustRun(t, DefaultConfig(), data, &scriptStrategy{})
	if len(res.EquityCurve) != 4 {
		t.Fatalf("expected union of 4 timestamps, got %d equity points", len(res.EquityCurve))
	}
}

func TestInsufficientCashShrinksOrder(t *testing.T) {
	cfg := zeroCostConfig()
	cfg.InitialCapital = 5000
	cfg.FillOnNextBar = false

	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 100)}
	strat := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionLong, Strength: 1, Size: 20000},
	}}
	res := mustRun(t, cfg, data, strat)

	last := res.PositionsHistory[len(res.PositionsHistory)-1]
	pos, ok := last.Positions["AAPL"]
	if !ok {
		t.Fatal("expected an open position")
	}
	if want := 5000.0 / 100.0; math.Abs(pos.Quantity-want) > 1e-9 {
		t.Errorf("quantity = %v, want shrunk to %v", pos.Quantity, want)
	}
	if last.Cash < -1e-9 {
		t.Errorf("cash went negative: %v", last.Cash)
	}

	shrunk := false
	for _, ev := range res.Events {
		if ev.Type == EventOrderShrunk {
			shrunk = true
		}
	}
	if !shrunk {
		t.Error("expected an order_shrunk event")
	}
}

func TestWholeShareFlooring(t *testing.T) {
	cfg := zeroCostConfig()
	cfg.AllowFractionalShares = false
	cfg.FillOnNextBar = false

	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 103, 103)}
	strat := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionLong, Strength: 1, Size: 1000},
	}}
	res := mustRun(t, cfg, data, strat)

	pos := res.PositionsHistory[1].Positions["AAPL"]
	if pos.Quantity != 9 {
		t.Errorf("quantity = %v, want floored to 9 shares", pos.Quantity)
	}
}

func TestCloseWithoutPositionIsNoop(t *testing.T) {
	cfg := zeroCostConfig()
	cfg.FillOnNextBar = false

	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 101)}
	strat := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionFlat},
	}}
	res := mustRun(t, cfg, data, strat)

	if len(res.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(res.Trades))
	}
	for _, p := range res.EquityCurve {
		if p.Cash != cfg.InitialCapital {
			t.Fatalf("cash changed without a position: %v", p.Cash)
		}
	}
}

func TestShortThenLongClosesFirst(t *testing.T) {
	cfg := zeroCostConfig()
	cfg.FillOnNextBar = false

	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 100, 100)}
	strat := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionShort, Strength: 1, Size: 5000},
		1: {Direction: DirectionLong, Strength: 1, Size: 5000},
	}}
	res := mustRun(t, cfg, data, strat)

	if len(res.Trades) != 1 {
		t.Fatalf("expected the short to close as one trade, got %d", len(res.Trades))
	}
	if res.Trades[0].Direction != DirectionShort {
		t.Errorf("trade direction = %v, want short", res.Trades[0].Direction)
	}
	last := res.PositionsHistory[len(res.PositionsHistory)-1]
	pos, ok := last.Positions["AAPL"]
	if !ok || pos.Quantity <= 0 {
		t.Fatalf("expected an open long after the flip, got %+v", pos)
	}
}

func TestAveragingIntoSameDirection(t *testing.T) {
	cfg := zeroCostConfig()
	cfg.FillOnNextBar = false

	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 120, 120)}
	strat := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionLong, Strength: 1, Size: 1000},
		1: {Direction: DirectionLong, Strength: 1, Size: 1200},
	}}
	res := mustRun(t, cfg, data, strat)

	last := res.PositionsHistory[len(res.PositionsHistory)-1]
	pos := last.Positions["AAPL"]
	if want := 20.0; math.Abs(pos.Quantity-want) > 1e-9 {
		t.Errorf("quantity = %v, want %v", pos.Quantity, want)
	}
	// 10 shares at 100 plus 10 shares at 120.
	if want := 110.0; math.Abs(pos.AvgPrice-want) > 1e-9 {
		t.Errorf("avg price = %v, want %v", pos.AvgPrice, want)
	}
}

func TestEquitySamplesSatisfyMarkToMarket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FillOnNextBar = true

	data := map[string]*market.Series{
		"AAA": minuteBars("AAA", 100, 102, 101, 104, 103),
		"BBB": minuteBars("BBB", 50, 49, 51, 50, 52),
	}
	strat := &scriptStrategy{symbol: "AAA", steps: map[int]Signal{
		0: {Direction: DirectionLong, Strength: 0.5},
		2: {Direction: DirectionShort, Strength: 0.5},
		4: {Direction: DirectionFlat},
	}}
	res := mustRun(t, cfg, data, strat)

	for i, snap := range res.PositionsHistory {
		want := snap.Cash
		for sym, pos := range snap.Positions {
			bar, ok := data[sym].At(snap.Timestamp)
			if !ok {
				continue
			}
			if pos.Quantity > 0 {
				want += pos.Quantity * bar.Close
			} else {
				want += pos.Quantity*bar.Close + 2*pos.Quantity*pos.AvgPrice
			}
		}
		if got := res.EquityCurve[i].Equity; math.Abs(got-want) > 1e-6 {
			t.Fatalf("equity sample %d = %v, want %v", i, got, want)
		}
	}
}

func TestFlatRunCashIdentity(t *testing.T) {
	// With zero costs and an unchanged price, a full round trip must
	// leave cash exactly at the initial capital and net pnl at zero.
	cfg := zeroCostConfig()
	cfg.FillOnNextBar = false

	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 100, 100)}
	strat := &scriptStrategy{symbol: "AAPL", steps: map[int]Signal{
		0: {Direction: DirectionLong, Strength: 1, Size: 10000},
		1: {Direction: DirectionFlat},
	}}
	res := mustRun(t, cfg, data, strat)

	if len(res.Trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(res.Trades))
	}
	var netSum float64
	for _, tr := range res.Trades {
		netSum += tr.NetPnl
	}
	finalCash := res.EquityCurve[len(res.EquityCurve)-1].Cash
	if math.Abs(netSum-(finalCash-cfg.InitialCapital)) > 1e-9 {
		t.Errorf("sum(net_pnl) = %v, final cash delta = %v", netSum, finalCash-cfg.InitialCapital)
	}
}

func TestStrategyErrorsAreIsolated(t *testing.T) {
	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 101)}
	strat := &scriptStrategy{symbol: "AAPL", err: errors.New("feature column missing")}
	res := mustRun(t, DefaultConfig(), data, strat)

	if len(res.EquityCurve) != 2 {
		t.Fatalf("run aborted on strategy error: %d equity points", len(res.EquityCurve))
	}
	found := 0
	for _, ev := range res.Events {
		if ev.Type == EventStrategyError {
			found++
		}
	}
	if found != 2 {
		t.Errorf("expected 2 strategy_error events, got %d", found)
	}
}

func TestDeterministicReplay(t *testing.T) {
	cfg := DefaultConfig()
	data := map[string]*market.Series{
		"AAA": minuteBars("AAA", 100, 102, 101, 104, 103, 106),
		"BBB": minuteBars("BBB", 50, 49, 51, 50, 52, 51),
	}
	strat := func() Strategy {
		return &scriptStrategy{symbol: "AAA", steps: map[int]Signal{
			0: {Direction: DirectionLong, Strength: 0.7},
			2: {Direction: DirectionFlat},
			3: {Direction: DirectionShort, Strength: 0.4},
			5: {Direction: DirectionFlat},
		}}
	}

	first := mustRun(t, cfg, data, strat())
	second := mustRun(t, cfg, data, strat())

	if !reflect.DeepEqual(first.EquityCurve, second.EquityCurve) {
		t.Error("equity curves differ between identical runs")
	}
	if !reflect.DeepEqual(first.Trades, second.Trades) {
		t.Error("trade logs differ between identical runs")
	}
}

func TestStateVectorAlignment(t *testing.T) {
	data := map[string]*market.Series{"AAPL": minuteBars("AAPL", 100, 101, 102)}
	states := map[string][][]float64{"AAPL": {{0.1}, {0.2}, {0.3}}}

	var seen []float64
	strat := stateRecorder{out: &seen}
	eng, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := eng.Run(data, strat, nil, states); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []float64{0.1, 0.2, 0.3}; !reflect.DeepEqual(seen, want) {
		t.Errorf("states seen = %v, want %v", seen, want)
	}
}

type stateRecorder struct{ out *[]float64 }

func (s stateRecorder) GenerateSignals(_ *market.Frame, _ time.Time, state []float64) ([]Signal, error) {
	if len(state) == 1 {
		*s.out = append(*s.out, state[0])
	}
	return nil, nil
}
