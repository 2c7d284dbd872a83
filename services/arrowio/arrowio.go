// Package arrowio serializes bar series and equity curves to Arrow IPC
// streams so results can be handed to columnar tooling without a CSV
// round trip.
package arrowio

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"backtest-services/services/engine"
	"backtest-services/services/market"
)

var barSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp_ms", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var equitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp_ms", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "cash", Type: arrow.PrimitiveTypes.Float64},
	{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// EncodeBars writes one symbol's bars as a single-record IPC stream.
func EncodeBars(w io.Writer, series *market.Series) error {
	if series.Len() == 0 {
		return fmt.Errorf("no bars to encode for %q", series.Symbol)
	}
	pool := memory.NewGoAllocator()

	n := series.Len()
	symbols := make([]string, n)
	timestamps := make([]uint64, n)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, bar := range series.Bars {
		symbols[i] = series.Symbol
		timestamps[i] = uint64(bar.Timestamp.UnixMilli())
		opens[i] = bar.Open
		highs[i] = bar.High
		lows[i] = bar.Low
		closes[i] = bar.Close
		volumes[i] = bar.Volume
	}

	symbolBuilder := array.NewStringBuilder(pool)
	symbolBuilder.AppendValues(symbols, nil)
	timestampBuilder := array.NewUint64Builder(pool)
	timestampBuilder.AppendValues(timestamps, nil)

	cols := []arrow.Array{symbolBuilder.NewStringArray(), timestampBuilder.NewUint64Array()}
	for _, vals := range [][]float64{opens, highs, lows, closes, volumes} {
		b := array.NewFloat64Builder(pool)
		b.AppendValues(vals, nil)
		cols = append(cols, b.NewFloat64Array())
	}

	record := array.NewRecord(barSchema, cols, int64(n))
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(barSchema))
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("write bar record: %w", err)
	}
	return writer.Close()
}

// EncodeBarsBytes is EncodeBars into a fresh buffer.
func EncodeBarsBytes(series *market.Series) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeBars(&buf, series); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBars reads an IPC stream written by EncodeBars back into
// per-symbol series.
func DecodeBars(r io.Reader) (map[string]*market.Series, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open bar stream: %w", err)
	}
	defer reader.Release()

	barsBySymbol := make(map[string][]market.Bar)
	for reader.Next() {
		record := reader.Record()
		symbols := record.Column(0).(*array.String)
		timestamps := record.Column(1).(*array.Uint64)
		opens := record.Column(2).(*array.Float64)
		highs := record.Column(3).(*array.Float64)
		lows := record.Column(4).(*array.Float64)
		closes := record.Column(5).(*array.Float64)
		volumes := record.Column(6).(*array.Float64)

		for i := 0; i < int(record.NumRows()); i++ {
			sym := symbols.Value(i)
			barsBySymbol[sym] = append(barsBySymbol[sym], market.Bar{
				Timestamp: time.UnixMilli(int64(timestamps.Value(i))).UTC(),
				Open:      opens.Value(i),
				High:      highs.Value(i),
				Low:       lows.Value(i),
				Close:     closes.Value(i),
				Volume:    volumes.Value(i),
			})
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read bar stream: %w", err)
	}

	out := make(map[string]*market.Series, len(barsBySymbol))
	for sym, bars := range barsBySymbol {
		out[sym] = market.NewSeries(sym, bars)
	}
	return out, nil
}

// EncodeEquityCurve writes a backtest equity curve as an IPC stream.
func EncodeEquityCurve(w io.Writer, curve []engine.EquityPoint) error {
	if len(curve) == 0 {
		return fmt.Errorf("no equity points to encode")
	}
	pool := memory.NewGoAllocator()

	n := len(curve)
	timestamps := make([]uint64, n)
	cash := make([]float64, n)
	equity := make([]float64, n)
	for i, p := range curve {
		timestamps[i] = uint64(p.Timestamp.UnixMilli())
		cash[i] = p.Cash
		equity[i] = p.Equity
	}

	timestampBuilder := array.NewUint64Builder(pool)
	timestampBuilder.AppendValues(timestamps, nil)
	cashBuilder := array.NewFloat64Builder(pool)
	cashBuilder.AppendValues(cash, nil)
	equityBuilder := array.NewFloat64Builder(pool)
	equityBuilder.AppendValues(equity, nil)

	record := array.NewRecord(equitySchema, []arrow.Array{
		timestampBuilder.NewUint64Array(),
		cashBuilder.NewFloat64Array(),
		equityBuilder.NewFloat64Array(),
	}, int64(n))
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(equitySchema))
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("write equity record: %w", err)
	}
	return writer.Close()
}

// DecodeEquityCurve reads a stream written by EncodeEquityCurve.
func DecodeEquityCurve(r io.Reader) ([]engine.EquityPoint, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open equity stream: %w", err)
	}
	defer reader.Release()

	var curve []engine.EquityPoint
	for reader.Next() {
		record := reader.Record()
		timestamps := record.Column(0).(*array.Uint64)
		cash := record.Column(1).(*array.Float64)
		equity := record.Column(2).(*array.Float64)
		for i := 0; i < int(record.NumRows()); i++ {
			curve = append(curve, engine.EquityPoint{
				Timestamp: time.UnixMilli(int64(timestamps.Value(i))).UTC(),
				Cash:      cash.Value(i),
				Equity:    equity.Value(i),
			})
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read equity stream: %w", err)
	}
	return curve, nil
}
