package events

import "time"

// Event enumerates the topics published inside the core.
type Event string

const (
	EventHeartbeat       Event = "heartbeat"
	EventPriceTick       Event = "price_tick"
	EventSignalCreated   Event = "signal_created"
	EventOrderPlaced     Event = "order_placed"
	EventTradeClosed     Event = "trade_closed"
	EventPositionScaled  Event = "position_scaled"
	EventRiskRejected    Event = "risk_rejected"
	EventExecutionFailed Event = "execution_failed"
)

// All lists every topic in publication order of a typical cycle.
var All = []Event{
	EventHeartbeat,
	EventPriceTick,
	EventSignalCreated,
	EventRiskRejected,
	EventOrderPlaced,
	EventExecutionFailed,
	EventPositionScaled,
	EventTradeClosed,
}

// Heartbeat is published once at the start of every scan cycle.
type Heartbeat struct {
	TS   time.Time `json:"ts"`
	Mode string    `json:"mode"`
}

// PriceTick carries the latest observed price for a symbol.
type PriceTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// RiskRejected reports an admission denial to the operator channel.
type RiskRejected struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// ExecutionFailed reports an entry that could not be placed.
type ExecutionFailed struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
	Fatal  bool   `json:"fatal"`
}
