package engine

import "time"

type orderAction int

const (
	actionClose orderAction = iota
	actionBuy
	actionSell
)

func (a orderAction) String() string {
	switch a {
	case actionBuy:
		return "buy"
	case actionSell:
		return "sell"
	default:
		return "close"
	}
}

// pendingOrder is queued by the signal adapter and consumed exactly
// once by the execution simulator. Size is in account currency for
// opens and unused for closes.
type pendingOrder struct {
	Symbol   string
	Action   orderAction
	Size     float64
	Signal   *Signal
	QueuedAt time.Time
}

// drainPending swaps out the FIFO queue for this step. Orders queued
// while executing (there are none today) would wait for the next step.
func (e *Engine) drainPending() []pendingOrder {
	due := e.pending
	e.pending = nil
	return due
}
