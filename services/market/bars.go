// Package market holds the in-memory OHLCV data model shared by the
// backtest engine and the loaders that materialize data for it.
package market

import "time"

// Bar represents a single OHLCV bar for one symbol
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Series is an ordered bar sequence for one symbol. Bars must be
// appended in ascending timestamp order; the index map makes
// timestamp membership checks O(1) during the event loop.
type Series struct {
	Symbol string
	Bars   []Bar

	index map[int64]int
}

// NewSeries builds a Series and its timestamp index. Bars are assumed
// pre-sorted by the loader.
func NewSeries(symbol string, bars []Bar) *Series {
	s := &Series{Symbol: symbol, Bars: bars, index: make(map[int64]int, len(bars))}
	for i, b := range bars {
		s.index[b.Timestamp.UnixNano()] = i
	}
	return s
}

// At returns the bar at ts, if any.
func (s *Series) At(ts time.Time) (Bar, bool) {
	i, ok := s.index[ts.UnixNano()]
	if !ok {
		return Bar{}, false
	}
	return s.Bars[i], true
}

// IndexOf returns the positional index of ts within the series.
func (s *Series) IndexOf(ts time.Time) (int, bool) {
	i, ok := s.index[ts.UnixNano()]
	return i, ok
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Bars) }

// Slice returns a new Series restricted to [start, end). Used by the
// walk-forward splitter; the underlying bars are shared, not copied.
func (s *Series) Slice(start, end time.Time) *Series {
	lo := 0
	for lo < len(s.Bars) && s.Bars[lo].Timestamp.Before(start) {
		lo++
	}
	hi := lo
	for hi < len(s.Bars) && s.Bars[hi].Timestamp.Before(end) {
		hi++
	}
	return NewSeries(s.Symbol, s.Bars[lo:hi])
}
