package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the order types the core places.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Candle is one OHLCV bar. Series are ordered by Timestamp ascending.
type Candle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MarketOrder is the argument of MarketBuy/MarketSell. Leverage, StopLoss and
// TakeProfit are optional and only honoured by adapters declaring NativeBracket.
type MarketOrder struct {
	Symbol     string
	Qty        float64
	ClientID   string
	Leverage   *int
	StopLoss   *float64
	TakeProfit *float64
}

// OrderRequest is a generic order intent for limit and conditional orders.
// Params carries venue-specific trigger fields (stopPrice, triggerPrice, stop).
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	TimeInForce TimeInForce
	ClientID    string
	ReduceOnly  bool
	Params      map[string]string
}

// OrderAck is the exchange acknowledgement of an order.
type OrderAck struct {
	ExchangeOrderID string
	ClientID        string
	Status          OrderStatus
	AvgPrice        float64
	Price           float64
	FilledQty       float64
	Raw             map[string]any
}

// FillPrice returns the best known execution price, falling back to def.
func (a OrderAck) FillPrice(def float64) float64 {
	if a.AvgPrice > 0 {
		return a.AvgPrice
	}
	if a.Price > 0 {
		return a.Price
	}
	return def
}

// ExchangePosition is a venue-reported open position or holding.
type ExchangePosition struct {
	ID         string
	Symbol     string
	Side       Side
	Qty        float64
	EntryPrice float64
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64
	Qty   float64
}

// OrderBook is a depth snapshot, best levels first.
type OrderBook struct {
	Symbol string
	Bids   []BookLevel
	Asks   []BookLevel
}

// TapeTrade is one public trade print.
type TapeTrade struct {
	Price float64
	Qty   float64
	Side  Side // aggressor side
	Time  time.Time
}

// Ticker is a streamed last price.
type Ticker struct {
	Symbol string
	Price  float64
	Time   time.Time
}
