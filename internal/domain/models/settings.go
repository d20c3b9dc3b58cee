package models

import "time"

// Mode selects how a portfolio executes its orders.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// PortfolioSettings is the fully resolved configuration of one portfolio.
// Defaults are applied with creasty/defaults before any file or override is decoded.
type PortfolioSettings struct {
	Mode                    Mode    `yaml:"mode" toml:"mode" json:"mode" default:"backtest" validate:"oneof=backtest live"`
	InitialCapital          float64 `yaml:"initial_capital" toml:"initial_capital" json:"initial_capital" default:"100000" validate:"gt=0"`
	CapitalTradableCap      float64 `yaml:"capital_tradable_cap" toml:"capital_tradable_cap" json:"capital_tradable_cap" validate:"gte=0"`
	MaxLongPositions        int     `yaml:"max_long_positions" toml:"max_long_positions" json:"max_long_positions" default:"5" validate:"gte=0"`
	MaxShortPositions       int     `yaml:"max_short_positions" toml:"max_short_positions" json:"max_short_positions" validate:"gte=0"`
	PositionSize            float64 `yaml:"position_size" toml:"position_size" json:"position_size" validate:"gte=0,lte=1"`
	AdjustPositionDown      bool    `yaml:"adjust_position_down" toml:"adjust_position_down" json:"adjust_position_down" default:"true"`
	CommissionFixed         float64 `yaml:"commission_fixed" toml:"commission_fixed" json:"commission_fixed" validate:"gte=0"`
	CommissionPct           float64 `yaml:"commission_pct" toml:"commission_pct" json:"commission_pct" default:"0.0008" validate:"gte=0,lt=1"`
	CommissionMin           float64 `yaml:"commission_min" toml:"commission_min" json:"commission_min" validate:"gte=0"`
	MaxSlippage             float64 `yaml:"max_slippage" toml:"max_slippage" json:"max_slippage" default:"0.0005" validate:"gte=0,lt=1"`
	RoundLotSize            float64 `yaml:"round_lot_size" toml:"round_lot_size" json:"round_lot_size" default:"10" validate:"gte=0"`
	RoundDecimals           int32   `yaml:"round_decimals" toml:"round_decimals" json:"round_decimals" default:"2" validate:"gte=0,lte=8"`
	RoundDecimalsBelowOne   int32   `yaml:"round_decimals_below_one" toml:"round_decimals_below_one" json:"round_decimals_below_one" default:"3" validate:"gte=0,lte=8"`
	ThresholdDangerousTrade float64 `yaml:"threshold_dangerous_trade" toml:"threshold_dangerous_trade" json:"threshold_dangerous_trade" default:"0.2" validate:"gte=0"`
}

// Resolve fills derived fields. A zero position size becomes an equal split
// across the long slots, or the short slots when no long slots exist.
func (s PortfolioSettings) Resolve() PortfolioSettings {
	if s.Mode == "" {
		s.Mode = ModeBacktest
	}
	if s.PositionSize == 0 {
		switch {
		case s.MaxLongPositions > 0:
			s.PositionSize = 1.0 / float64(s.MaxLongPositions)
		case s.MaxShortPositions > 0:
			s.PositionSize = 1.0 / float64(s.MaxShortPositions)
		}
	}
	return s
}

// FeedOptions controls how raw series are turned into the replay feed.
type FeedOptions struct {
	Symbols         []string  `yaml:"symbols" toml:"symbols" json:"symbols"`
	DateFrom        time.Time `yaml:"date_from" toml:"date_from" json:"date_from"`
	DateTo          time.Time `yaml:"date_to" toml:"date_to" json:"date_to"`
	NormalizePrices bool      `yaml:"normalize_prices" toml:"normalize_prices" json:"normalize_prices" default:"true"`
	NormalizeVolume bool      `yaml:"normalize_volume" toml:"normalize_volume" json:"normalize_volume"`
	RoundDecimals   int32     `yaml:"round_decimals" toml:"round_decimals" json:"round_decimals" default:"2" validate:"gte=0,lte=8"`
}
