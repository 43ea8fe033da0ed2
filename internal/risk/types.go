package risk

import "time"

// Config bounds new entries. It never applies to managing open positions.
type Config struct {
	MaxOpenPositions int     `yaml:"max_open_positions" json:"max_open_positions" default:"2" validate:"gte=1"`
	DailyLossCap     float64 `yaml:"daily_loss_cap" json:"daily_loss_cap" default:"25" validate:"gte=0"`
}

// DefaultConfig returns the built-in admission limits.
func DefaultConfig() Config {
	return Config{MaxOpenPositions: 2, DailyLossCap: 25}
}

// DailyState is the realized P&L tally for one UTC day.
type DailyState struct {
	Day    time.Time `json:"day"`
	CumPnL float64   `json:"cum_pnl"`
	Trades int       `json:"trades"`
}

// Metrics tracks current risk status
type Metrics struct {
	Day              string  `json:"day"`
	DailyPnL         float64 `json:"daily_pnl"`
	DailyTrades      int     `json:"daily_trades"`
	DailyLossCap     float64 `json:"daily_loss_cap"`
	CapHit           bool    `json:"cap_hit"`
	MaxOpenPositions int     `json:"max_open_positions"`

	// Since process start.
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MaxProfit        float64 `json:"max_profit"`
	Rejections       int     `json:"rejections"`
}

// Rejection reasons returned by CanOpen.
const (
	ReasonMaxOpen = "max open positions reached"
	ReasonLossCap = "daily loss cap hit"
	dayKeyLayout  = "2006-01-02"
)
