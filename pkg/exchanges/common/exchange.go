package common

import "context"

// Capabilities declares what an adapter supports. Callers must consult it
// rather than assume a venue accepts a given order shape.
type Capabilities struct {
	Spot          bool `json:"spot"`
	Futures       bool `json:"futures"`
	MarketOrders  bool `json:"market_orders"`
	LimitOrders   bool `json:"limit_orders"`
	StopOrders    bool `json:"stop_orders"`
	NativeBracket bool `json:"native_bracket"`
	PartialClose  bool `json:"partial_close"`
}

// Exchange is the capability contract every venue adapter implements.
type Exchange interface {
	Name() string
	Capabilities() Capabilities
	Connect(ctx context.Context) error
	Balance(ctx context.Context, asset string) (float64, error)
	// OpenPositions lists open exposure; an empty symbol means all symbols.
	OpenPositions(ctx context.Context, symbol string) ([]ExchangePosition, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	MarketBuy(ctx context.Context, o MarketOrder) (OrderAck, error)
	MarketSell(ctx context.Context, o MarketOrder) (OrderAck, error)
	// ClosePosition closes qty of the position id (qty <= 0 closes all).
	ClosePosition(ctx context.Context, id string, qty, priceHint float64) (OrderAck, error)
}

// OrderPlacer is implemented by adapters that accept limit and conditional orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
}

// OrderCanceler is implemented by adapters that can withdraw a resting
// order. A venue that no longer knows the order returns ErrUnknownOrder.
type OrderCanceler interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// OrderFlowSource is implemented by adapters exposing depth and public trades.
type OrderFlowSource interface {
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]TapeTrade, error)
}

// TickerSource is implemented by adapters that can push last-trade prices.
// The channel is closed when the stream ends; callers resubscribe.
type TickerSource interface {
	SubscribeTickers(ctx context.Context, symbols []string) (<-chan Ticker, func(), error)
}
