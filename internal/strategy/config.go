package strategy

import "momentum-core/internal/indicators"

// Config holds the signal thresholds. Tags drive creasty/defaults and
// validator when loaded through pkg/config.
type Config struct {
	Timeframe  string  `yaml:"timeframe" default:"5m" validate:"required"`
	MinCandles int     `yaml:"min_candles" default:"60" validate:"gte=2"`
	MinPrice   float64 `yaml:"min_price" default:"0.10" validate:"gte=0"`
	MaxPrice   float64 `yaml:"max_price" default:"100000" validate:"gtfield=MinPrice"`

	MinRelVol          float64 `yaml:"min_rel_vol" default:"2.0" validate:"gte=0"`
	MinGapPct          float64 `yaml:"min_gap_pct" default:"0.5"`
	MinBodyFrac        float64 `yaml:"min_body_frac" default:"0.55" validate:"gte=0,lte=1"`
	MaxUpperWickFrac   float64 `yaml:"max_upper_wick_frac" default:"0.35" validate:"gte=0,lte=1"`
	MinVolumeSpike     float64 `yaml:"min_volume_spike" default:"1.8" validate:"gte=0"`
	MinATRFrac         float64 `yaml:"min_atr_frac" default:"0.0008" validate:"gte=0"`
	StopLookback       int     `yaml:"stop_lookback" default:"5" validate:"gte=1"`
	RMultiple          float64 `yaml:"r_multiple" default:"2.0" validate:"gt=0"`
	RiskPerTrade       float64 `yaml:"risk_per_trade" default:"0.01" validate:"gt=0,lte=1"`
	LoosenFactor       float64 `yaml:"loosen_factor" default:"0" validate:"gte=0,lte=0.6"`
	ForceTestSignal    bool    `yaml:"force_test_signal"`
	ForceOncePerSymbol bool    `yaml:"force_once_per_symbol" default:"true"`

	OrderFlow OrderFlowConfig `yaml:"orderflow"`
	Session   SessionConfig   `yaml:"session"`

	Indicators indicators.Options `yaml:"indicators"`

	// Profiles override thresholds and sizing per symbol.
	Profiles map[string]Profile `yaml:"profiles"`
}

// OrderFlowConfig gates on depth and tape ratios when enabled.
type OrderFlowConfig struct {
	Enabled    bool    `yaml:"enabled"`
	MinBidAsk  float64 `yaml:"min_bid_ask" default:"1.25" validate:"gte=0"`
	MinBuySell float64 `yaml:"min_buy_sell" default:"1.15" validate:"gte=0"`
	BookDepth  int     `yaml:"book_depth" default:"8" validate:"gte=1"`
	TapeTrades int     `yaml:"tape_trades" default:"60" validate:"gte=1"`
}

// SessionConfig restricts entries to [StartHourUTC, EndHourUTC). A start
// after the end is an overnight window.
type SessionConfig struct {
	Enabled      bool `yaml:"enabled"`
	StartHourUTC int  `yaml:"start_hour_utc" default:"12" validate:"gte=0,lte=23"`
	EndHourUTC   int  `yaml:"end_hour_utc" default:"20" validate:"gte=1,lte=24,nefield=StartHourUTC"`
}

// DefaultConfig mirrors the struct tag defaults for callers that build a
// Config in code.
func DefaultConfig() Config {
	return Config{
		Timeframe:          "5m",
		MinCandles:         60,
		MinPrice:           0.10,
		MaxPrice:           100000,
		MinRelVol:          2.0,
		MinGapPct:          0.5,
		MinBodyFrac:        0.55,
		MaxUpperWickFrac:   0.35,
		MinVolumeSpike:     1.8,
		MinATRFrac:         0.0008,
		StopLookback:       5,
		RMultiple:          2.0,
		RiskPerTrade:       0.01,
		ForceOncePerSymbol: true,
		OrderFlow: OrderFlowConfig{
			MinBidAsk:  1.25,
			MinBuySell: 1.15,
			BookDepth:  8,
			TapeTrades: 60,
		},
		Session:    SessionConfig{StartHourUTC: 12, EndHourUTC: 20},
		Indicators: indicators.DefaultOptions(),
	}
}
