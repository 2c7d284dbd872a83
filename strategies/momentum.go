// Package strategies holds baseline strategy implementations used to
// exercise the backtest engine.
package strategies

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"backtest-services/services/engine"
	"backtest-services/services/market"
)

// Scaling selects how momentum magnitude maps to signal strength.
type Scaling string

const (
	ScalingLinear  Scaling = "linear"
	ScalingSigmoid Scaling = "sigmoid"
	ScalingBinary  Scaling = "binary"
)

// SignalMode restricts which sides the strategy may take.
type SignalMode string

const (
	ModeBoth      SignalMode = "both"
	ModeLongOnly  SignalMode = "long_only"
	ModeShortOnly SignalMode = "short_only"
)

// MomentumConfig tunes the baseline momentum strategy.
type MomentumConfig struct {
	Symbols         []string
	MomentumFeature string
	LongThreshold   float64
	ShortThreshold  float64
	Mode            SignalMode
	Scaling         Scaling
	MinStrength     float64
}

// DefaultMomentumConfig matches the research baseline: 0.1% momentum
// thresholds on the 5-minute log return column.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		MomentumFeature: "r5",
		LongThreshold:   0.001,
		ShortThreshold:  -0.001,
		Mode:            ModeBoth,
		Scaling:         ScalingLinear,
		MinStrength:     0.1,
	}
}

// Momentum goes long when the momentum feature exceeds the long
// threshold and short below the short threshold, flat otherwise. It is
// the baseline that state-enhanced strategies are compared against.
type Momentum struct {
	cfg MomentumConfig
}

// NewMomentum builds the strategy.
func NewMomentum(cfg MomentumConfig) *Momentum {
	if cfg.MomentumFeature == "" {
		cfg.MomentumFeature = "r5"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBoth
	}
	if cfg.Scaling == "" {
		cfg.Scaling = ScalingLinear
	}
	return &Momentum{cfg: cfg}
}

// GenerateSignals emits one signal per configured symbol (or the
// engine's default symbol) from the latest momentum value.
func (m *Momentum) GenerateSignals(features *market.Frame, ts time.Time, _ []float64) ([]engine.Signal, error) {
	col := features.Column(m.cfg.MomentumFeature)
	if col == nil {
		return nil, fmt.Errorf("required feature %q not in frame", m.cfg.MomentumFeature)
	}
	if len(col) == 0 {
		return nil, nil
	}
	momentum := col[len(col)-1]

	symbols := m.cfg.Symbols
	if len(symbols) == 0 {
		symbols = []string{engine.DefaultSymbol}
	}

	signals := make([]engine.Signal, 0, len(symbols))
	for _, sym := range symbols {
		signals = append(signals, m.signalFor(sym, ts, momentum))
	}
	return signals, nil
}

func (m *Momentum) signalFor(symbol string, ts time.Time, momentum float64) engine.Signal {
	direction := engine.DirectionFlat
	strength := 0.0

	switch {
	case math.IsNaN(momentum):
		// fall through flat
	case momentum > m.cfg.LongThreshold && (m.cfg.Mode == ModeBoth || m.cfg.Mode == ModeLongOnly):
		direction = engine.DirectionLong
		strength = m.strength(momentum, m.cfg.LongThreshold, true)
	case momentum < m.cfg.ShortThreshold && (m.cfg.Mode == ModeBoth || m.cfg.Mode == ModeShortOnly):
		direction = engine.DirectionShort
		strength = m.strength(momentum, m.cfg.ShortThreshold, false)
	}

	if direction != engine.DirectionFlat && strength < m.cfg.MinStrength {
		direction = engine.DirectionFlat
		strength = 0
	}

	return engine.Signal{
		Timestamp: ts,
		Symbol:    symbol,
		Direction: direction,
		Strength:  strength,
		Metadata: map[string]string{
			"momentum": strconv.FormatFloat(momentum, 'f', -1, 64),
		},
	}
}

// strength maps how far momentum sits beyond the threshold into [0,1].
func (m *Momentum) strength(momentum, threshold float64, isLong bool) float64 {
	if m.cfg.Scaling == ScalingBinary {
		return 1
	}

	var excess float64
	switch {
	case threshold == 0 && isLong:
		excess = momentum
	case threshold == 0:
		excess = math.Abs(momentum)
	case isLong:
		excess = (momentum - threshold) / math.Abs(threshold)
	default:
		excess = (threshold - momentum) / math.Abs(threshold)
	}

	switch m.cfg.Scaling {
	case ScalingLinear:
		return math.Min(1, math.Max(0, excess))
	case ScalingSigmoid:
		return 1 / (1 + math.Exp(-2*excess))
	default:
		return 1
	}
}
