// Package paper is a simulated venue: random-walk candles with periodic
// momentum bursts, instant market fills and an in-memory balance.
package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"momentum-core/pkg/exchanges/common"
)

// Config tunes the simulation.
type Config struct {
	Seed           int64
	StartPrice     float64 // default 100
	Volatility     float64 // per-bar stddev as a fraction of price, default 0.002
	BurstEvery     int     // inject a breakout bar every N bars; 0 disables
	BaseVolume     float64 // default 10
	InitialBalance float64 // quote asset, default 10000
	FeeRate        float64 // decimal (e.g. 0.0004 = 4 bps)
	SlippageBps    float64 // applied against the taker on market fills
	QuoteAsset     string  // default USDT
	Now            func() time.Time
}

type series struct {
	tf      time.Duration
	candles []common.Candle
}

// Exchange implements common.Exchange, common.OrderPlacer,
// common.OrderCanceler and common.OrderFlowSource without any network access.
type Exchange struct {
	cfg Config

	mu       sync.Mutex
	rng      *rand.Rand
	series   map[string]*series
	balances map[string]float64
	resting  map[string]common.OrderRequest
	nextID   int64
}

var (
	_ common.Exchange        = (*Exchange)(nil)
	_ common.OrderPlacer     = (*Exchange)(nil)
	_ common.OrderCanceler   = (*Exchange)(nil)
	_ common.OrderFlowSource = (*Exchange)(nil)
)

// New creates a simulated venue.
func New(cfg Config) *Exchange {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.002
	}
	if cfg.BaseVolume <= 0 {
		cfg.BaseVolume = 10
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Exchange{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		series:   make(map[string]*series),
		balances: map[string]float64{cfg.QuoteAsset: cfg.InitialBalance},
		resting:  make(map[string]common.OrderRequest),
	}
}

func (e *Exchange) Name() string { return "paper" }

func (e *Exchange) Capabilities() common.Capabilities {
	return common.Capabilities{
		Spot:         true,
		MarketOrders: true,
		LimitOrders:  true,
		StopOrders:   true,
		PartialClose: true,
	}
}

func (e *Exchange) Connect(context.Context) error { return nil }

// Balance returns the simulated free balance of asset.
func (e *Exchange) Balance(_ context.Context, asset string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[strings.ToUpper(asset)], nil
}

// OpenPositions reports non-zero base holdings.
func (e *Exchange) OpenPositions(_ context.Context, symbol string) ([]common.ExchangePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []common.ExchangePosition
	for asset, qty := range e.balances {
		if asset == e.cfg.QuoteAsset || qty <= 1e-12 {
			continue
		}
		sym := asset + e.cfg.QuoteAsset
		if symbol != "" && !strings.EqualFold(symbol, sym) {
			continue
		}
		out = append(out, common.ExchangePosition{ID: sym, Symbol: sym, Side: common.SideBuy, Qty: qty})
	}
	return out, nil
}

// FetchCandles extends the symbol's series up to the current bar and returns
// the last limit bars.
func (e *Exchange) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]common.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := parseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.extendLocked(symbol, tf, limit)
	from := max(0, len(s.candles)-limit)
	return append([]common.Candle(nil), s.candles[from:]...), nil
}

// Step appends one bar to every generated series. Tests use it to advance
// the simulation without waiting for the clock.
func (e *Exchange) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.series {
		last := s.candles[len(s.candles)-1]
		s.candles = append(s.candles, e.nextBarLocked(last, last.Timestamp.Add(s.tf), len(s.candles)))
	}
}

// LastPrice returns the latest simulated close for symbol.
func (e *Exchange) LastPrice(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[symbol]
	if !ok || len(s.candles) == 0 {
		return 0, false
	}
	return s.candles[len(s.candles)-1].Close, true
}

func (e *Exchange) extendLocked(symbol string, tf time.Duration, limit int) *series {
	now := e.cfg.Now().UTC().Truncate(tf)
	s, ok := e.series[symbol]
	if !ok {
		s = &series{tf: tf}
		start := now.Add(-time.Duration(limit-1) * tf)
		s.candles = append(s.candles, e.firstBar(start))
		e.series[symbol] = s
	}
	for last := s.candles[len(s.candles)-1]; last.Timestamp.Before(now); last = s.candles[len(s.candles)-1] {
		s.candles = append(s.candles, e.nextBarLocked(last, last.Timestamp.Add(tf), len(s.candles)))
	}
	if keep := 2 * max(limit, 500); len(s.candles) > keep {
		s.candles = s.candles[len(s.candles)-keep:]
	}
	return s
}

func (e *Exchange) firstBar(ts time.Time) common.Candle {
	p := e.cfg.StartPrice
	return common.Candle{Timestamp: ts, Open: p, High: p, Low: p, Close: p, Volume: e.cfg.BaseVolume}
}

// nextBarLocked draws a bar from a drifting random walk. Every BurstEvery
// bars it emits a wide bullish bar on several times the usual volume.
func (e *Exchange) nextBarLocked(prev common.Candle, ts time.Time, n int) common.Candle {
	open := prev.Close
	vol := e.cfg.Volatility
	if e.cfg.BurstEvery > 0 && n%e.cfg.BurstEvery == 0 {
		move := open * vol * (4 + 2*e.rng.Float64())
		return common.Candle{
			Timestamp: ts,
			Open:      open,
			High:      open + move*1.1,
			Low:       open - move*0.05,
			Close:     open + move,
			Volume:    e.cfg.BaseVolume * (4 + 2*e.rng.Float64()),
		}
	}
	// slight upward drift keeps the EMA stack mostly aligned between bursts
	ret := e.rng.NormFloat64()*vol + vol*0.1
	closePx := math.Max(open*(1+ret), open*0.5)
	wick := math.Abs(e.rng.NormFloat64()) * vol * open * 0.5
	return common.Candle{
		Timestamp: ts,
		Open:      open,
		High:      math.Max(open, closePx) + wick,
		Low:       math.Min(open, closePx) - wick,
		Close:     closePx,
		Volume:    e.cfg.BaseVolume * (0.7 + 0.6*e.rng.Float64()),
	}
}

// MarketBuy fills immediately at the last close plus slippage.
func (e *Exchange) MarketBuy(_ context.Context, o common.MarketOrder) (common.OrderAck, error) {
	return e.fill(o.Symbol, common.SideBuy, o.Qty, o.ClientID)
}

// MarketSell fills immediately at the last close minus slippage.
func (e *Exchange) MarketSell(_ context.Context, o common.MarketOrder) (common.OrderAck, error) {
	return e.fill(o.Symbol, common.SideSell, o.Qty, o.ClientID)
}

// ClosePosition is not modelled; spot-style callers fall back to MarketSell.
func (e *Exchange) ClosePosition(context.Context, string, float64, float64) (common.OrderAck, error) {
	return common.OrderAck{}, fmt.Errorf("paper close position: %w", common.ErrNotSupported)
}

func (e *Exchange) fill(symbol string, side common.Side, qty float64, clientID string) (common.OrderAck, error) {
	if qty <= 0 {
		return common.OrderAck{}, fmt.Errorf("paper %s: %w: qty must be positive", symbol, common.ErrRejected)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[symbol]
	if !ok || len(s.candles) == 0 {
		return common.OrderAck{}, fmt.Errorf("paper %s: %w: no market data", symbol, common.ErrRejected)
	}
	px := s.candles[len(s.candles)-1].Close
	slip := px * e.cfg.SlippageBps / 10000
	base := e.base(symbol)
	quote := e.cfg.QuoteAsset

	switch side {
	case common.SideBuy:
		px += slip
		cost := px * qty * (1 + e.cfg.FeeRate)
		if cost > e.balances[quote]+1e-9 {
			return common.OrderAck{}, fmt.Errorf("paper %s: %w: insufficient %s balance", symbol, common.ErrRejected, quote)
		}
		e.balances[quote] -= cost
		e.balances[base] += qty
	case common.SideSell:
		px -= slip
		if qty > e.balances[base]+1e-9 {
			return common.OrderAck{}, fmt.Errorf("paper %s: %w: insufficient %s balance", symbol, common.ErrRejected, base)
		}
		e.balances[base] -= qty
		e.balances[quote] += px * qty * (1 - e.cfg.FeeRate)
	}

	if clientID == "" {
		clientID = uuid.NewString()
	}
	e.nextID++
	return common.OrderAck{
		ExchangeOrderID: fmt.Sprintf("SIM-%d", e.nextID),
		ClientID:        clientID,
		Status:          common.StatusFilled,
		AvgPrice:        px,
		FilledQty:       qty,
	}, nil
}

// PlaceOrder accepts limit and trigger orders as resting orders; they are
// recorded but never matched. Plain market requests fill immediately.
func (e *Exchange) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	_, trigger := req.Params["stopPrice"]
	if !trigger {
		_, trigger = req.Params["triggerPrice"]
	}
	if req.Type == common.OrderTypeMarket && !trigger {
		return e.fill(req.Symbol, req.Side, req.Qty, req.ClientID)
	}
	if req.Qty <= 0 {
		return common.OrderAck{}, fmt.Errorf("paper %s: %w: qty must be positive", req.Symbol, common.ErrRejected)
	}
	if req.Type == common.OrderTypeLimit && req.Price <= 0 {
		return common.OrderAck{}, fmt.Errorf("paper %s: %w: limit price required", req.Symbol, common.ErrRejected)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := fmt.Sprintf("SIM-%d", e.nextID)
	e.resting[id] = req
	return common.OrderAck{ExchangeOrderID: id, ClientID: req.ClientID, Status: common.StatusNew, Price: req.Price}, nil
}

// CancelOrder drops a resting order.
func (e *Exchange) CancelOrder(_ context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.resting[orderID]
	if !ok || !strings.EqualFold(req.Symbol, symbol) {
		return fmt.Errorf("paper cancel %s %s: %w", symbol, orderID, common.ErrUnknownOrder)
	}
	delete(e.resting, orderID)
	return nil
}

// Resting returns the accepted, unmatched orders.
func (e *Exchange) Resting() map[string]common.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]common.OrderRequest, len(e.resting))
	for k, v := range e.resting {
		out[k] = v
	}
	return out
}

// OrderBook builds a symmetric synthetic book around the last close, tilted
// toward bids after an up bar.
func (e *Exchange) OrderBook(_ context.Context, symbol string, depth int) (common.OrderBook, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[symbol]
	if !ok {
		return common.OrderBook{}, fmt.Errorf("paper %s: %w: no market data", symbol, common.ErrRejected)
	}
	last := s.candles[len(s.candles)-1]
	tilt := 1.0
	if last.Close > last.Open {
		tilt = 1.5
	}
	book := common.OrderBook{Symbol: symbol}
	tick := last.Close * 0.0001
	for i := 1; i <= depth; i++ {
		q := e.cfg.BaseVolume / float64(i)
		book.Bids = append(book.Bids, common.BookLevel{Price: last.Close - float64(i)*tick, Qty: q * tilt})
		book.Asks = append(book.Asks, common.BookLevel{Price: last.Close + float64(i)*tick, Qty: q})
	}
	return book, nil
}

// RecentTrades synthesizes a tape whose buy share follows the last bar.
func (e *Exchange) RecentTrades(_ context.Context, symbol string, limit int) ([]common.TapeTrade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[symbol]
	if !ok {
		return nil, fmt.Errorf("paper %s: %w: no market data", symbol, common.ErrRejected)
	}
	last := s.candles[len(s.candles)-1]
	buyShare := 0.5
	if last.Close > last.Open {
		buyShare = 0.65
	}
	out := make([]common.TapeTrade, 0, limit)
	for i := 0; i < limit; i++ {
		side := common.SideSell
		if e.rng.Float64() < buyShare {
			side = common.SideBuy
		}
		out = append(out, common.TapeTrade{
			Price: last.Close,
			Qty:   e.cfg.BaseVolume / float64(max(limit, 1)),
			Side:  side,
			Time:  last.Timestamp,
		})
	}
	return out, nil
}

func (e *Exchange) base(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), e.cfg.QuoteAsset)
}

func parseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("paper timeframe %q: %w", tf, common.ErrNotSupported)
	}
	var n int
	if _, err := fmt.Sscanf(tf[:len(tf)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("paper timeframe %q: %w", tf, common.ErrNotSupported)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("paper timeframe %q: %w", tf, common.ErrNotSupported)
}
