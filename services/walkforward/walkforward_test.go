package walkforward

import (
	"math"
	"testing"
	"time"

	"backtest-services/services/engine"
	"backtest-services/services/market"
)

var start = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func dailyBars(symbol string, days int) *market.Series {
	bars := make([]market.Bar, days)
	price := 100.0
	for i := 0; i < days; i++ {
		// Deterministic drifting path.
		price *= 1 + 0.001*math.Sin(float64(i)/7)
		bars[i] = market.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price,
			Volume:    1000,
		}
	}
	return market.NewSeries(symbol, bars)
}

type flatStrategy struct{}

func (flatStrategy) GenerateSignals(*market.Frame, time.Time, []float64) ([]engine.Signal, error) {
	return nil, nil
}

func testConfig() Config {
	return Config{
		TrainPeriodDays: 100,
		TestPeriodDays:  30,
		StepDays:        30,
		MinTrainSamples: 10,
		MaxParallel:     2,
	}
}

func TestGenerateWindows(t *testing.T) {
	v, err := New(testConfig(), engine.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := map[string]*market.Series{"AAA": dailyBars("AAA", 300)}
	windows := v.generateWindows(data)
	if len(windows) != 6 {
		t.Fatalf("window count = %d, want 6", len(windows))
	}
	w := windows[1]
	if !w.TrainStart.Equal(start.AddDate(0, 0, 30)) || !w.TestEnd.Equal(start.AddDate(0, 0, 160)) {
		t.Fatalf("window 1 range = %v..%v", w.TrainStart, w.TestEnd)
	}
	if !w.TrainEnd.Equal(w.TestStart) {
		t.Fatal("train end must abut test start")
	}
}

func TestRunProducesWindowResults(t *testing.T) {
	v, err := New(testConfig(), engine.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := map[string]*market.Series{"AAA": dailyBars("AAA", 300)}

	res, err := v.Run(data, func() engine.Strategy { return flatStrategy{} }, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Windows) != 6 {
		t.Fatalf("window count = %d, want 6", len(res.Windows))
	}
	for _, w := range res.Windows {
		if w.TrainResult == nil || w.TestResult == nil {
			t.Fatalf("window %d missing results", w.ID)
		}
		if len(w.TestResult.Trades) != 0 {
			t.Fatalf("flat strategy produced trades in window %d", w.ID)
		}
	}
	if res.TestSummary.Windows != 6 {
		t.Fatalf("test summary windows = %d", res.TestSummary.Windows)
	}
	// Flat strategy: every combined equity point is the unit scale.
	for _, eq := range res.CombinedEquity {
		if math.Abs(eq-1) > 1e-12 {
			t.Fatalf("combined equity = %v, want 1.0", eq)
		}
	}
}

func TestRunWithoutWindowsFails(t *testing.T) {
	v, err := New(testConfig(), engine.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := map[string]*market.Series{"AAA": dailyBars("AAA", 50)}
	if _, err := v.Run(data, func() engine.Strategy { return flatStrategy{} }, nil, nil); err == nil {
		t.Fatal("expected ErrNoWindows")
	}
}

func TestCombineEquityCurvesChainsSegments(t *testing.T) {
	t1 := []time.Time{start, start.AddDate(0, 0, 1), start.AddDate(0, 0, 2)}
	t2 := []time.Time{start.AddDate(0, 0, 3), start.AddDate(0, 0, 4)}
	c1 := []float64{100, 110, 120}
	c2 := []float64{200, 190}

	times, values := combineEquityCurves([][]time.Time{t1, t2}, [][]float64{c1, c2})
	if len(values) != 4 {
		t.Fatalf("combined length = %d, want 4", len(values))
	}
	want := []float64{1.0, 1.1, 1.2, 1.2 * 190.0 / 200.0}
	for i, w := range want {
		if math.Abs(values[i]-w) > 1e-12 {
			t.Fatalf("combined[%d] = %v, want %v", i, values[i], w)
		}
	}
	if !times[3].Equal(t2[1]) {
		t.Fatalf("combined times misaligned: %v", times[3])
	}
}
