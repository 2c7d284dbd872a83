// Package engine implements the event-driven backtest core: it owns
// portfolio state for one run, advances the merged multi-symbol
// timeline, translates strategy signals into orders and simulates
// fills with slippage, commission and cash constraints.
package engine

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"backtest-services/services/market"
)

// Engine holds all mutable state for a single run. Nothing here is
// shared or global, so independent engines are safe to run in parallel
// goroutines; within one engine every mutation is sequential.
type Engine struct {
	cfg Config
	log *zap.Logger

	cash      float64
	positions map[string]*Position
	pending   []pendingOrder
	trades    []Trade
	signals   []Signal
	curve     []EquityPoint
	history   []LedgerSnapshot
	events    *EventLog
}

// New validates the config and builds an engine. A nil logger is
// replaced with a no-op one.
func New(cfg Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{cfg: cfg, log: log}
	e.reset()
	return e, nil
}

// Config returns the run configuration.
func (e *Engine) Config() Config { return e.cfg }

// Cash returns the current cash balance.
func (e *Engine) Cash() float64 { return e.cash }

func (e *Engine) reset() {
	e.log.Debug("resetting engine state", zap.Float64("initial_capital", e.cfg.InitialCapital))
	e.cash = e.cfg.InitialCapital
	e.positions = make(map[string]*Position)
	e.pending = nil
	e.trades = nil
	e.signals = nil
	e.curve = nil
	e.history = nil
	e.events = &EventLog{}
}

// Run replays the strategy over the data bar by bar. features and
// states are optional per-symbol inputs; states are aligned to each
// symbol's bar index. The run never aborts on a strategy error: the
// failing symbol/timestamp is logged and skipped.
func (e *Engine) Run(
	data map[string]*market.Series,
	strat Strategy,
	features map[string]*market.Frame,
	states map[string][][]float64,
) (*Result, error) {
	e.reset()

	timeline := market.MergeTimeline(data)
	symbols := market.Symbols(data)

	e.log.Info("starting backtest",
		zap.Int("symbols", len(symbols)),
		zap.Int("timestamps", len(timeline)),
	)

	// Raw OHLCV frames stand in for symbols with no feature pipeline.
	rawFrames := make(map[string]*market.Frame, len(symbols))
	frameFor := func(sym string) *market.Frame {
		if f, ok := features[sym]; ok && f != nil {
			return f
		}
		f, ok := rawFrames[sym]
		if !ok {
			f = market.FrameFromSeries(data[sym])
			rawFrames[sym] = f
		}
		return f
	}

	for i, ts := range timeline {
		bars := make(map[string]market.Bar, len(symbols))
		for _, sym := range symbols {
			if b, ok := data[sym].At(ts); ok {
				bars[sym] = b
			}
		}
		if len(bars) == 0 {
			continue
		}

		if e.cfg.FillOnNextBar && i > 0 {
			e.executePending(bars, ts)
		}

		// Snapshot equity before any decision made this step.
		equity := e.markToMarket(bars)
		e.curve = append(e.curve, EquityPoint{Timestamp: ts, Cash: e.cash, Equity: equity})
		e.history = append(e.history, e.snapshot(ts, equity))

		for _, sym := range symbols {
			bar, ok := bars[sym]
			if !ok {
				continue
			}

			frame := frameFor(sym)
			if hasFeatures := features[sym] != nil; hasFeatures && !frame.HasRow(ts) {
				continue
			}
			window := frame.Through(ts)

			var state []float64
			if symStates, ok := states[sym]; ok {
				if idx, ok := data[sym].IndexOf(ts); ok && idx < len(symStates) {
					state = symStates[idx]
				}
			}

			sigs, err := strat.GenerateSignals(window, ts, state)
			if err != nil {
				e.log.Error("strategy error",
					zap.String("symbol", sym),
					zap.Time("ts", ts),
					zap.Error(err),
				)
				e.events.Append(Event{Ts: ts, Type: EventStrategyError, Symbol: sym, Details: map[string]string{"error": err.Error()}})
				continue
			}

			for _, sig := range sigs {
				if sig.Symbol == DefaultSymbol || sig.Symbol == "" {
					sig.Symbol = sym
				}
				e.signals = append(e.signals, sig)
				e.processSignal(sig, bar, ts)
			}
		}

		if !e.cfg.FillOnNextBar {
			e.executePending(bars, ts)
		}
	}

	e.log.Info("backtest complete",
		zap.Int("trades", len(e.trades)),
		zap.Float64("final_cash", e.cash),
	)

	return &Result{
		EquityCurve:      e.curve,
		PositionsHistory: e.history,
		Trades:           e.trades,
		Signals:          e.signals,
		Events:           e.events.Events,
		Config:           e.cfg,
	}, nil
}

// processSignal is the per-symbol state machine: Flat closes, Long and
// Short close the opposite side before opening. A symbol is never long
// and short at once; netting is always an explicit close.
func (e *Engine) processSignal(sig Signal, bar market.Bar, ts time.Time) {
	symbol := sig.Symbol
	pos := e.positions[symbol]

	queue := func(ord pendingOrder) {
		e.pending = append(e.pending, ord)
		e.events.Append(Event{Ts: ts, Type: EventOrderQueued, Symbol: ord.Symbol, Details: map[string]string{"action": ord.Action.String()}})
	}

	switch sig.Direction {
	case DirectionFlat:
		if pos != nil && pos.Quantity != 0 {
			queue(pendingOrder{Symbol: symbol, Action: actionClose, QueuedAt: ts})
		}
	case DirectionLong:
		if pos != nil && pos.IsShort() {
			queue(pendingOrder{Symbol: symbol, Action: actionClose, QueuedAt: ts})
		}
		if size := e.positionSize(sig, bar); size > 0 {
			s := sig
			queue(pendingOrder{Symbol: symbol, Action: actionBuy, Size: size, Signal: &s, QueuedAt: ts})
		}
	case DirectionShort:
		if pos != nil && pos.IsLong() {
			queue(pendingOrder{Symbol: symbol, Action: actionClose, QueuedAt: ts})
		}
		if size := e.positionSize(sig, bar); size > 0 {
			s := sig
			queue(pendingOrder{Symbol: symbol, Action: actionSell, Size: size, Signal: &s, QueuedAt: ts})
		}
	}
}

// positionSize returns the order notional: the signal's explicit size,
// or equity scaled by max position fraction and signal strength.
func (e *Engine) positionSize(sig Signal, bar market.Bar) float64 {
	if sig.Size > 0 {
		return sig.Size
	}
	equity := e.markToMarket(map[string]market.Bar{sig.Symbol: bar})
	return equity * e.cfg.MaxPositionPct * sig.Strength
}

// markToMarket values the book against the given bars. Longs are worth
// qty*price; shorts carry the qty*price + 2*qty*avg_price form that
// the signed-quantity convention requires. Summation runs in sorted
// symbol order so repeated runs produce identical floating-point
// results.
func (e *Engine) markToMarket(bars map[string]market.Bar) float64 {
	equity := e.cash
	for _, sym := range e.sortedPositionSymbols() {
		bar, ok := bars[sym]
		if !ok {
			continue
		}
		pos := e.positions[sym]
		price := bar.Close
		if pos.IsLong() {
			equity += pos.Quantity * price
		} else {
			equity += pos.Quantity*price + 2*pos.Quantity*pos.AvgPrice
		}
	}
	return equity
}

func (e *Engine) sortedPositionSymbols() []string {
	syms := make([]string, 0, len(e.positions))
	for sym := range e.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

func (e *Engine) snapshot(ts time.Time, equity float64) LedgerSnapshot {
	positions := make(map[string]PositionSnapshot, len(e.positions))
	for sym, pos := range e.positions {
		positions[sym] = PositionSnapshot{Quantity: pos.Quantity, AvgPrice: pos.AvgPrice}
	}
	return LedgerSnapshot{Timestamp: ts, Cash: e.cash, Equity: equity, Positions: positions}
}
