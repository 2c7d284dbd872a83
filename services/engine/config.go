package engine

import (
	"errors"
	"fmt"
)

// Config controls execution-cost modeling and sizing for one run.
type Config struct {
	InitialCapital        float64 `json:"initial_capital"`
	CommissionPerShare    float64 `json:"commission_per_share"`
	SlippageBps           float64 `json:"slippage_bps"`
	FillOnNextBar         bool    `json:"fill_on_next_bar"`
	AllowFractionalShares bool    `json:"allow_fractional_shares"`
	MaxPositionPct        float64 `json:"max_position_pct"`

	// RiskFreeRate is carried through to the metrics stage untouched.
	RiskFreeRate float64 `json:"risk_free_rate"`
}

// DefaultConfig mirrors the defaults used across the research stack.
func DefaultConfig() Config {
	return Config{
		InitialCapital:        100000.0,
		CommissionPerShare:    0.005,
		SlippageBps:           5.0,
		FillOnNextBar:         true,
		AllowFractionalShares: true,
		MaxPositionPct:        1.0,
	}
}

var (
	ErrInvalidCapital     = errors.New("initial capital must be positive")
	ErrInvalidCommission  = errors.New("commission per share must be non-negative")
	ErrInvalidSlippage    = errors.New("slippage bps must be non-negative")
	ErrInvalidPositionPct = errors.New("max position pct must be in (0, 1]")
)

// Validate rejects malformed configs before any state is built; a run
// never starts with an unusable cost model.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidCapital, c.InitialCapital)
	}
	if c.CommissionPerShare < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidCommission, c.CommissionPerShare)
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSlippage, c.SlippageBps)
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidPositionPct, c.MaxPositionPct)
	}
	return nil
}
