package engine

import "time"

// Position is an open holding. Quantity is signed: negative means
// short. A position exists only while Quantity != 0; the ledger deletes
// it atomically on full close.
type Position struct {
	Symbol    string
	Quantity  float64
	AvgPrice  float64
	EntryTime time.Time
}

// IsLong reports a positive holding.
func (p *Position) IsLong() bool { return p.Quantity > 0 }

// IsShort reports a negative holding.
func (p *Position) IsShort() bool { return p.Quantity < 0 }

// Trade is the immutable record emitted when a position closes.
// Quantity is absolute; Direction preserves the side.
type Trade struct {
	Symbol       string
	Direction    Direction
	Quantity     float64
	EntryPrice   float64
	ExitPrice    float64
	EntryTime    time.Time
	ExitTime     time.Time
	Commission   float64
	SlippageCost float64
	NetPnl       float64
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
