package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"momentum-core/internal/events"
	"momentum-core/internal/order"
	exchange "momentum-core/pkg/exchanges/common"
)

// remainders below this are treated as fully closed
const qtyEpsilon = 1e-12

// Manager tracks open positions and drives them through the scale-out
// lifecycle on every price tick. Only one position per symbol is tracked;
// further fills for it are merged.
type Manager struct {
	cfg    ScaleOutConfig
	closer Closer
	bus    *events.Bus
	store  StateStore
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	positions map[string]*Position
}

// Option customizes a Manager.
type Option func(*Manager)

// WithStore mirrors state to s.
func WithStore(s StateStore) Option { return func(m *Manager) { m.store = s } }

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager creates a manager. bus may be nil.
func NewManager(cfg ScaleOutConfig, closer Closer, bus *events.Bus, opts ...Option) *Manager {
	if closer == nil {
		closer = PaperCloser{}
	}
	m := &Manager{
		cfg:       cfg,
		closer:    closer,
		bus:       bus,
		store:     NewMemoryStore(),
		log:       zerolog.Nop(),
		now:       time.Now,
		positions: make(map[string]*Position),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register starts tracking the position opened by r. A fill for a symbol
// already tracked is merged into that position: entry becomes the
// size-weighted average, the wider stop and the farther target win, and the
// scale-out plan restarts on the combined size.
func (m *Manager) Register(r *order.Result) Position {
	sig := r.Candidate
	entry := r.FilledPrice
	if entry <= 0 {
		entry = sig.Entry
	}
	stop := r.StopPrice()
	now := m.now().UTC()

	p := &Position{
		ID:           uuid.NewString(),
		Symbol:       sig.Symbol,
		Exchange:     sig.Exchange,
		Side:         sig.Side,
		Mode:         string(r.Mode),
		OrderID:      r.OrderID,
		Entry:        entry,
		Qty:          r.FilledQty(),
		Remaining:    r.FilledQty(),
		RiskPerUnit:  math.Abs(entry - stop),
		InitialStop:  stop,
		CurrentStop:  stop,
		Target:       r.TargetPrice(),
		NativeStop:   r.HasNativeStop(),
		ExitOrderIDs: r.ExitOrderIDs(),
		Stage:        StageOpen,
		OpenedAt:     now,
		UpdatedAt:    now,
	}

	m.mu.Lock()
	existing, merged := m.positions[p.Symbol]
	if merged {
		mergeFill(existing, p)
		p = existing
	} else {
		m.positions[p.Symbol] = p
	}
	snapshot := p.clone()
	m.mu.Unlock()

	m.save(snapshot)
	msg := "position registered"
	if merged {
		msg = "fill merged into open position"
	}
	m.log.Info().
		Str("symbol", snapshot.Symbol).
		Float64("entry", snapshot.Entry).
		Float64("qty", snapshot.Remaining).
		Float64("stop", snapshot.CurrentStop).
		Float64("rpu", snapshot.RiskPerUnit).
		Msg(msg)
	return snapshot
}

// mergeFill folds the newly opened add into p. Both stops sit on the
// protective side of their own entries, so the wider one also protects the
// averaged entry.
func mergeFill(p, add *Position) {
	sign := p.Side.Sign()
	size := p.Remaining + add.Remaining
	if size > qtyEpsilon {
		p.Entry = (p.Entry*p.Remaining + add.Entry*add.Remaining) / size
	}
	p.Qty += add.Qty
	p.Remaining = size

	if p.CurrentStop <= 0 || (add.CurrentStop > 0 && (p.CurrentStop-add.CurrentStop)*sign > 0) {
		p.CurrentStop = add.CurrentStop
	}
	p.InitialStop = p.CurrentStop
	p.RiskPerUnit = math.Abs(p.Entry - p.CurrentStop)
	if (add.Target-p.Target)*sign > 0 {
		p.Target = add.Target
	}

	p.NativeStop = p.NativeStop && add.NativeStop
	p.ExitOrderIDs = append(p.ExitOrderIDs, add.ExitOrderIDs...)
	p.Stage1Done = false
	p.Stage = StageOpen
	p.UpdatedAt = add.UpdatedAt
}

// Restore reloads positions from the state store.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	loaded, err := m.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range loaded {
		p := loaded[i]
		if p.Remaining <= qtyEpsilon || p.Stage == StageClosed {
			continue
		}
		m.positions[p.Symbol] = &p
		n++
	}
	return n, nil
}

// OnPriceTick applies one price observation to the symbol's position and
// returns what happened, or nil. A failed close leaves state untouched so
// the next tick retries.
func (m *Manager) OnPriceTick(ctx context.Context, symbol string, price float64) *Event {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil
	}

	m.mu.Lock()
	p, ok := m.positions[symbol]
	if !ok || p.Remaining <= qtyEpsilon {
		m.mu.Unlock()
		return nil
	}
	p.LastPrice = price

	ev, err := m.stepLocked(ctx, p, price)
	if err != nil {
		snapshot := p.clone()
		m.mu.Unlock()
		m.save(snapshot)
		m.log.Error().Err(err).Str("symbol", symbol).Float64("price", price).Msg("close failed, will retry on next tick")
		return nil
	}
	if ev == nil {
		m.mu.Unlock()
		return nil
	}
	snapshot := p.clone()
	if ev.Trade != nil {
		delete(m.positions, symbol)
	}
	m.mu.Unlock()

	if ev.Trade != nil {
		m.remove(symbol)
		m.log.Info().
			Str("symbol", symbol).
			Str("reason", ev.Trade.Reason).
			Float64("pnl", ev.Trade.PnL).
			Msg("trade closed")
		m.publish(events.EventTradeClosed, *ev.Trade)
	} else {
		m.save(snapshot)
		m.log.Info().
			Str("symbol", symbol).
			Float64("closed", ev.Qty).
			Float64("pnl", ev.PnL).
			Float64("new_stop", ev.NewStop).
			Msg("scaled out")
		m.publish(events.EventPositionScaled, *ev)
	}
	return ev
}

func (m *Manager) stepLocked(ctx context.Context, p *Position, price float64) (*Event, error) {
	sign := p.Side.Sign()
	reached := func(level float64) bool { return (price-level)*sign >= 0 }

	if m.cfg.Enabled && p.RiskPerUnit > 0 {
		tp1 := p.Entry + sign*m.cfg.TP1R*p.RiskPerUnit
		if !p.Stage1Done && reached(tp1) {
			qty := p.Remaining * m.cfg.TP1Frac
			if p.Remaining-qty <= qtyEpsilon {
				return m.closeAllLocked(ctx, p, price, ReasonTP1, EventTP1Hit)
			}
			if err := m.cancelExitsLocked(ctx, p); err != nil {
				return nil, err
			}
			fill, err := m.closer.Close(ctx, *p, qty, price)
			if err != nil {
				return nil, err
			}
			pnl := (fill - p.Entry) * qty * sign
			p.Fills = append(p.Fills, Fill{Reason: ReasonTP1, Qty: qty, Price: fill, PnL: pnl, Time: m.now().UTC()})
			p.RealizedPnL += pnl
			p.Remaining -= qty
			p.Stage1Done = true
			p.Stage = StageScaled
			p.CurrentStop = p.Entry * (1 + m.cfg.BreakevenBuffer*sign)
			p.UpdatedAt = m.now().UTC()
			return &Event{
				Kind:      EventTP1Hit,
				Symbol:    p.Symbol,
				Stage:     p.Stage,
				Qty:       qty,
				Price:     fill,
				PnL:       pnl,
				Remaining: p.Remaining,
				NewStop:   p.CurrentStop,
			}, nil
		}
		if p.Stage1Done && m.cfg.TP2Enabled {
			tp2 := p.Entry + sign*m.cfg.TP2R*p.RiskPerUnit
			if reached(tp2) {
				return m.closeAllLocked(ctx, p, price, ReasonTP2, EventTP2Hit)
			}
		}
	} else if p.Target > 0 && reached(p.Target) {
		return m.closeAllLocked(ctx, p, price, ReasonTarget, EventTargetHit)
	}

	// A resting venue stop protects the initial stop until the first
	// partial cancels it; the breakeven move is always enforced here.
	if p.CurrentStop > 0 && (!p.NativeStop || p.Stage1Done) && (p.CurrentStop-price)*sign >= 0 {
		reason := ReasonStop
		if p.Stage1Done {
			reason = ReasonBreakeven
		}
		return m.closeAllLocked(ctx, p, price, reason, EventStopHit)
	}
	return nil, nil
}

func (m *Manager) closeAllLocked(ctx context.Context, p *Position, price float64, reason string, kind EventKind) (*Event, error) {
	if err := m.cancelExitsLocked(ctx, p); err != nil {
		return nil, err
	}
	qty := p.Remaining
	fill, err := m.closer.Close(ctx, *p, qty, price)
	if err != nil {
		return nil, err
	}
	sign := p.Side.Sign()
	pnl := (fill - p.Entry) * qty * sign
	now := m.now().UTC()

	p.Fills = append(p.Fills, Fill{Reason: reason, Qty: qty, Price: fill, PnL: pnl, Time: now})
	p.RealizedPnL += pnl
	p.Remaining = 0
	p.Stage = StageClosed
	p.UpdatedAt = now

	trade := &Trade{
		ID:       p.ID,
		Symbol:   p.Symbol,
		Exchange: p.Exchange,
		Side:     p.Side,
		Mode:     p.Mode,
		OrderID:  p.OrderID,
		Entry:    p.Entry,
		Exit:     averageExit(p.Fills),
		Qty:      p.Qty,
		PnL:      p.RealizedPnL,
		Reason:   reason,
		Fills:    append([]Fill(nil), p.Fills...),
		OpenedAt: p.OpenedAt,
		ClosedAt: now,
	}
	return &Event{
		Kind:   kind,
		Symbol: p.Symbol,
		Stage:  StageClosed,
		Qty:    qty,
		Price:  fill,
		PnL:    pnl,
		Trade:  trade,
	}, nil
}

// cancelExitsLocked withdraws the venue exits resting against p so the
// quantity they hold is free to sell. Each cancelled id is dropped at once,
// so a failure part way retries only what is left. Once nothing rests, the
// stop monitor owns the stop.
func (m *Manager) cancelExitsLocked(ctx context.Context, p *Position) error {
	if len(p.ExitOrderIDs) == 0 {
		return nil
	}
	canceler, ok := m.closer.(ExitCanceler)
	if !ok {
		return nil
	}
	for len(p.ExitOrderIDs) > 0 {
		id := p.ExitOrderIDs[0]
		err := canceler.CancelExit(ctx, *p, id)
		switch {
		case errors.Is(err, exchange.ErrNotSupported):
			m.log.Warn().Err(err).Str("symbol", p.Symbol).Str("order_id", id).Msg("venue cannot cancel exit order; it stays live")
		case err != nil:
			return fmt.Errorf("cancel exit order %s: %w", id, err)
		default:
			m.log.Info().Str("symbol", p.Symbol).Str("order_id", id).Msg("exit order cancelled")
		}
		p.ExitOrderIDs = p.ExitOrderIDs[1:]
	}
	p.ExitOrderIDs = nil
	p.NativeStop = false
	return nil
}

func averageExit(fills []Fill) float64 {
	var qty, notional float64
	for _, f := range fills {
		qty += f.Qty
		notional += f.Qty * f.Price
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

// OpenCount returns the number of tracked positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Has reports whether symbol has an open position.
func (m *Manager) Has(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	return ok
}

// Get returns a copy of the symbol's position.
func (m *Manager) Get(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// Positions returns copies of all open positions sorted by symbol.
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *Manager) save(p Position) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("persist position state failed")
	}
}

func (m *Manager) remove(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.Delete(ctx, symbol); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("drop position state failed")
	}
}

func (m *Manager) publish(e events.Event, payload any) {
	if m.bus != nil {
		m.bus.Publish(e, payload)
	}
}
