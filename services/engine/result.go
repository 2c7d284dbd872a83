package engine

import "time"

// EquityPoint is one sample of the equity curve, appended once per
// timestamp and never mutated.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Cash      float64   `json:"cash"`
	Equity    float64   `json:"equity"`
}

// PositionSnapshot is a frozen view of one holding inside a
// LedgerSnapshot.
type PositionSnapshot struct {
	Quantity float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

// LedgerSnapshot captures the whole book at one timestamp.
type LedgerSnapshot struct {
	Timestamp time.Time                   `json:"timestamp"`
	Cash      float64                     `json:"cash"`
	Equity    float64                     `json:"equity"`
	Positions map[string]PositionSnapshot `json:"positions"`
}

// Result is the sole boundary artifact a run produces; metrics,
// reporting and persistence all consume it without reaching back into
// engine state.
type Result struct {
	EquityCurve      []EquityPoint
	PositionsHistory []LedgerSnapshot
	Trades           []Trade
	Signals          []Signal
	Events           []Event
	Config           Config
}

// FinalEquity returns the last equity sample, or the initial capital
// for an empty run.
func (r *Result) FinalEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return r.Config.InitialCapital
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Equity
}

// EquitySeries splits the curve into parallel time/value slices for
// the metrics stage.
func (r *Result) EquitySeries() ([]time.Time, []float64) {
	times := make([]time.Time, len(r.EquityCurve))
	values := make([]float64, len(r.EquityCurve))
	for i, p := range r.EquityCurve {
		times[i] = p.Timestamp
		values[i] = p.Equity
	}
	return times, values
}
