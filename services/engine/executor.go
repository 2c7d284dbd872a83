package engine

import (
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"backtest-services/services/market"
)

// executePending drains the FIFO queue and applies each order against
// the current bars. Orders for symbols with no bar this step are
// dropped, matching the adapter's one-shot queue semantics.
func (e *Engine) executePending(bars map[string]market.Bar, ts time.Time) {
	due := e.drainPending()
	if len(due) == 0 {
		return
	}
	e.log.Debug("executing pending orders", zap.Int("count", len(due)), zap.Time("ts", ts))

	for _, ord := range due {
		bar, ok := bars[ord.Symbol]
		if !ok {
			continue
		}

		// Fill at the bar open, never the close, to avoid look-ahead.
		fill := bar.Open
		slipMult := 1 + e.cfg.SlippageBps/10000
		switch ord.Action {
		case actionBuy:
			fill *= slipMult
			e.openPosition(ord.Symbol, ord.Size, fill, ts, DirectionLong)
		case actionSell:
			fill /= slipMult
			e.openPosition(ord.Symbol, ord.Size, fill, ts, DirectionShort)
		case actionClose:
			e.closePosition(ord.Symbol, fill, ts)
		}
	}
}

// openPosition buys or sells sizeCurrency worth of the symbol. When
// cash cannot cover size plus commission the order shrinks to the
// largest affordable quantity; a zero result drops the order. Both
// degradations are events, not errors.
func (e *Engine) openPosition(symbol string, sizeCurrency, fill float64, ts time.Time, dir Direction) {
	shares := sizeCurrency / fill
	if !e.cfg.AllowFractionalShares {
		shares = math.Trunc(shares)
	}
	if shares == 0 {
		e.events.Append(Event{Ts: ts, Type: EventOrderDropped, Symbol: symbol})
		return
	}

	commission := absf(shares) * e.cfg.CommissionPerShare
	required := sizeCurrency + commission
	if required > e.cash {
		available := e.cash - commission
		if available <= 0 {
			e.events.Append(Event{Ts: ts, Type: EventOrderDropped, Symbol: symbol})
			return
		}
		shares = available / fill
		if !e.cfg.AllowFractionalShares {
			shares = math.Trunc(shares)
		}
		if shares == 0 {
			e.events.Append(Event{Ts: ts, Type: EventOrderDropped, Symbol: symbol})
			return
		}
		requested := sizeCurrency
		sizeCurrency = shares * fill
		commission = absf(shares) * e.cfg.CommissionPerShare
		e.events.Append(Event{Ts: ts, Type: EventOrderShrunk, Symbol: symbol, Details: map[string]string{
			"requested": strconv.FormatFloat(requested, 'f', -1, 64),
			"filled":    strconv.FormatFloat(sizeCurrency, 'f', -1, 64),
		}})
		e.log.Debug("order shrunk to available cash",
			zap.String("symbol", symbol),
			zap.Float64("requested", requested),
			zap.Float64("filled", sizeCurrency),
		)
	}

	if dir == DirectionShort {
		shares = -shares
	}

	e.cash -= sizeCurrency + commission

	if pos, ok := e.positions[symbol]; ok {
		total := pos.Quantity + shares
		if total != 0 {
			pos.AvgPrice = (pos.AvgPrice*absf(pos.Quantity) + fill*absf(shares)) / absf(total)
			pos.Quantity = total
		} else {
			delete(e.positions, symbol)
		}
	} else {
		e.positions[symbol] = &Position{
			Symbol:    symbol,
			Quantity:  shares,
			AvgPrice:  fill,
			EntryTime: ts,
		}
	}

	e.events.Append(Event{Ts: ts, Type: EventOrderFilled, Symbol: symbol, Details: map[string]string{
		"action": dir.String(),
		"price":  strconv.FormatFloat(fill, 'f', -1, 64),
	}})
}

// closePosition unwinds the symbol's position at fill and records the
// Trade. A close against a flat book is a silent no-op.
func (e *Engine) closePosition(symbol string, fill float64, ts time.Time) {
	pos, ok := e.positions[symbol]
	if !ok {
		e.events.Append(Event{Ts: ts, Type: EventCloseSkipped, Symbol: symbol})
		e.log.Debug("no position to close", zap.String("symbol", symbol))
		return
	}

	var gross float64
	if pos.IsLong() {
		gross = pos.Quantity * (fill - pos.AvgPrice)
	} else {
		gross = absf(pos.Quantity) * (pos.AvgPrice - fill)
	}

	shares := absf(pos.Quantity)
	commission := shares * e.cfg.CommissionPerShare
	slippageCost := shares * fill * e.cfg.SlippageBps / 10000
	netPnl := gross - commission - slippageCost

	positionValue := shares * fill
	e.cash += positionValue + gross - commission

	direction := DirectionShort
	if pos.IsLong() {
		direction = DirectionLong
	}
	e.trades = append(e.trades, Trade{
		Symbol:       symbol,
		Direction:    direction,
		Quantity:     shares,
		EntryPrice:   pos.AvgPrice,
		ExitPrice:    fill,
		EntryTime:    pos.EntryTime,
		ExitTime:     ts,
		Commission:   commission,
		SlippageCost: slippageCost,
		NetPnl:       netPnl,
	})
	delete(e.positions, symbol)

	e.events.Append(Event{Ts: ts, Type: EventOrderFilled, Symbol: symbol, Details: map[string]string{
		"action": "close",
		"price":  strconv.FormatFloat(fill, 'f', -1, 64),
	}})
	e.log.Debug("trade recorded",
		zap.String("symbol", symbol),
		zap.Float64("net_pnl", netPnl),
		zap.Float64("commission", commission),
	)
}
