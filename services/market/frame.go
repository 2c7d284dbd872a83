package market

import (
	"fmt"
	"sort"
	"time"
)

// Frame is a column-oriented feature table aligned to timestamps. The
// engine hands strategies a trailing view of it; strategies must treat
// it as read-only.
type Frame struct {
	Times []time.Time
	Cols  map[string][]float64
}

// NewFrame validates that every column matches the timestamp axis.
func NewFrame(times []time.Time, cols map[string][]float64) (*Frame, error) {
	for name, col := range cols {
		if len(col) != len(times) {
			return nil, fmt.Errorf("column %q has %d rows, want %d", name, len(col), len(times))
		}
	}
	return &Frame{Times: times, Cols: cols}, nil
}

// FrameFromSeries builds a raw OHLCV frame so strategies can run
// without a precomputed feature pipeline.
func FrameFromSeries(s *Series) *Frame {
	n := s.Len()
	times := make([]time.Time, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closeCol := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range s.Bars {
		times[i] = b.Timestamp
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		closeCol[i] = b.Close
		volume[i] = b.Volume
	}
	return &Frame{
		Times: times,
		Cols: map[string][]float64{
			"open": open, "high": high, "low": low, "close": closeCol, "volume": volume,
		},
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Times) }

// Column returns the named column, or nil if absent.
func (f *Frame) Column(name string) []float64 { return f.Cols[name] }

// HasRow reports whether ts is one of the frame's timestamps.
func (f *Frame) HasRow(ts time.Time) bool {
	i := f.searchTime(ts)
	return i < len(f.Times) && f.Times[i].Equal(ts)
}

// Through returns the trailing window of rows with timestamp <= ts.
// Column slices are shared with the parent frame.
func (f *Frame) Through(ts time.Time) *Frame {
	i := f.searchTime(ts)
	if i < len(f.Times) && f.Times[i].Equal(ts) {
		i++
	}
	cols := make(map[string][]float64, len(f.Cols))
	for name, col := range f.Cols {
		cols[name] = col[:i]
	}
	return &Frame{Times: f.Times[:i], Cols: cols}
}

func (f *Frame) searchTime(ts time.Time) int {
	return sort.Search(len(f.Times), func(i int) bool { return !f.Times[i].Before(ts) })
}
