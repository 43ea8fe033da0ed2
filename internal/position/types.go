package position

import (
	"time"

	"momentum-core/internal/strategy"
	"momentum-core/pkg/db"
)

// Stage is the lifecycle stage of a position.
type Stage string

const (
	StageOpen   Stage = "OPEN"
	StageScaled Stage = "SCALED" // first partial taken, stop at breakeven
	StageClosed Stage = "CLOSED"
)

// Exit reasons recorded on fills and trades.
const (
	ReasonTP1       = "TP1"
	ReasonTP2       = "TP2"
	ReasonTarget    = "TARGET"
	ReasonStop      = "STOP"
	ReasonBreakeven = "BREAKEVEN"
)

// EventKind names what a tick did to a position.
type EventKind string

const (
	EventTP1Hit    EventKind = "TP1_HIT"
	EventTP2Hit    EventKind = "TP2_HIT"
	EventTargetHit EventKind = "TARGET_HIT"
	EventStopHit   EventKind = "STOP_HIT"
)

// ScaleOutConfig controls partial profit taking.
type ScaleOutConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled" default:"true"`
	TP1R            float64 `yaml:"tp1_r" json:"tp1_r" default:"1.0" validate:"gt=0"`
	TP1Frac         float64 `yaml:"tp1_frac" json:"tp1_frac" default:"0.5" validate:"gt=0,lte=1"`
	TP2Enabled      bool    `yaml:"tp2_enabled" json:"tp2_enabled" default:"true"`
	TP2R            float64 `yaml:"tp2_r" json:"tp2_r" default:"3.0" validate:"gtfield=TP1R"`
	BreakevenBuffer float64 `yaml:"breakeven_buffer" json:"breakeven_buffer" default:"0.001" validate:"gte=0,lt=0.1"`
}

// DefaultScaleOut returns the stock scale-out plan: half off at 1R, the rest
// at 3R, stop to breakeven plus 0.1% after the first partial.
func DefaultScaleOut() ScaleOutConfig {
	return ScaleOutConfig{
		Enabled:         true,
		TP1R:            1.0,
		TP1Frac:         0.5,
		TP2Enabled:      true,
		TP2R:            3.0,
		BreakevenBuffer: 0.001,
	}
}

// Fill is one partial or full exit.
type Fill struct {
	Reason string    `json:"reason"`
	Qty    float64   `json:"qty"`
	Price  float64   `json:"price"`
	PnL    float64   `json:"pnl"`
	Time   time.Time `json:"time"`
}

// Position is a live position and its scale-out state.
type Position struct {
	ID       string        `json:"id"`
	Symbol   string        `json:"symbol"`
	Exchange string        `json:"exchange"`
	Side     strategy.Side `json:"side"`
	Mode     string        `json:"mode"`
	OrderID  string        `json:"order_id"`

	Entry       float64 `json:"entry"`
	Qty         float64 `json:"qty"`
	Remaining   float64 `json:"remaining"`
	RiskPerUnit float64 `json:"risk_per_unit"`
	InitialStop float64 `json:"initial_stop"`
	CurrentStop float64 `json:"current_stop"`
	Target      float64 `json:"target"`
	NativeStop  bool    `json:"native_stop"`

	// ExitOrderIDs are venue orders resting against this position. They are
	// cancelled before the manager closes any quantity itself.
	ExitOrderIDs []string `json:"exit_order_ids,omitempty"`

	Stage1Done  bool    `json:"stage1_done"`
	Stage       Stage   `json:"stage"`
	Fills       []Fill  `json:"fills,omitempty"`
	RealizedPnL float64 `json:"realized_pnl"`
	LastPrice   float64 `json:"last_price"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Position) clone() Position {
	cp := *p
	cp.Fills = append([]Fill(nil), p.Fills...)
	cp.ExitOrderIDs = append([]string(nil), p.ExitOrderIDs...)
	return cp
}

// UnrealizedPnL marks the remaining quantity at the last seen price.
func (p Position) UnrealizedPnL() float64 {
	if p.LastPrice == 0 {
		return 0
	}
	return (p.LastPrice - p.Entry) * p.Remaining * p.Side.Sign()
}

// Event is what OnPriceTick reports. It is also the payload of
// events.EventPositionScaled.
type Event struct {
	Kind      EventKind `json:"kind"`
	Symbol    string    `json:"symbol"`
	Stage     Stage     `json:"stage"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	PnL       float64   `json:"pnl"`
	Remaining float64   `json:"remaining"`
	NewStop   float64   `json:"new_stop,omitempty"`
	Trade     *Trade    `json:"-"`
}

// Trade is a fully closed position; payload of events.EventTradeClosed.
type Trade struct {
	ID       string        `json:"id"`
	Symbol   string        `json:"symbol"`
	Exchange string        `json:"exchange"`
	Side     strategy.Side `json:"side"`
	Mode     string        `json:"mode"`
	OrderID  string        `json:"order_id"`
	Entry    float64       `json:"entry"`
	Exit     float64       `json:"exit"`
	Qty      float64       `json:"qty"`
	PnL      float64       `json:"pnl"`
	Reason   string        `json:"reason"`
	Fills    []Fill        `json:"fills"`
	OpenedAt time.Time     `json:"opened_at"`
	ClosedAt time.Time     `json:"closed_at"`
}

// Record converts t into its persisted form.
func (t Trade) Record() db.Trade {
	return db.Trade{
		ID:       t.ID,
		Symbol:   t.Symbol,
		Side:     string(t.Side),
		Entry:    t.Entry,
		Exit:     t.Exit,
		Qty:      t.Qty,
		PnL:      t.PnL,
		Reason:   t.Reason,
		Mode:     t.Mode,
		OrderID:  t.OrderID,
		OpenedAt: t.OpenedAt,
		ClosedAt: t.ClosedAt,
	}
}
