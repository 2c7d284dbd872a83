package engine

import (
	"time"

	"backtest-services/services/market"
)

// Direction is the side a signal asks for. Flat asks to exit.
type Direction int

const (
	DirectionFlat Direction = iota
	DirectionLong
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "flat"
	}
}

// Signal is one directional instruction emitted by a strategy.
// Strength scales the default position size; Size, when positive,
// overrides sizing entirely (in account currency).
type Signal struct {
	Timestamp time.Time
	Symbol    string
	Direction Direction
	Strength  float64
	Size      float64
	Metadata  map[string]string
}

// DefaultSymbol marks single-asset strategies that let the engine fill
// in the symbol it is currently iterating.
const DefaultSymbol = "default"

// Strategy is the engine's only collaborator contract. The feature
// frame is the trailing window up to and including the current
// timestamp; state is an optional pre-aligned latent vector and may be
// nil. Errors are isolated per symbol/timestamp, never fatal to a run.
type Strategy interface {
	GenerateSignals(features *market.Frame, ts time.Time, state []float64) ([]Signal, error)
}
