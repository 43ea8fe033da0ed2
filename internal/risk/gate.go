package risk

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/pkg/db"
)

// DayStore persists the daily tally so a restart within the same UTC day
// keeps counting toward the loss cap. *db.Database implements it.
type DayStore interface {
	LoadRiskDay(ctx context.Context, day string) (db.RiskDay, error)
	SaveRiskDay(ctx context.Context, r db.RiskDay) error
}

// Gate admits or denies new entries.
type Gate struct {
	cfg   Config
	store DayStore
	log   zerolog.Logger
	now   func() time.Time

	mu         sync.Mutex
	state      DailyState
	total      float64
	maxProfit  float64
	drawdown   float64
	rejections int
}

// Option customizes a Gate.
type Option func(*Gate)

// WithStore enables persistence of the daily tally.
func WithStore(s DayStore) Option { return func(g *Gate) { g.store = s } }

// WithClock overrides the time source; used by tests to cross midnight.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option { return func(g *Gate) { g.log = l } }

// NewGate creates a gate. With a store it reloads today's tally.
func NewGate(cfg Config, opts ...Option) *Gate {
	g := &Gate{cfg: cfg, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.state.Day = utcDay(g.now())

	if g.store != nil {
		r, err := g.store.LoadRiskDay(context.Background(), g.state.Day.Format(dayKeyLayout))
		switch {
		case err == nil:
			g.state.CumPnL = r.CumPnL
			g.state.Trades = r.Trades
			g.log.Info().Float64("cum_pnl", r.CumPnL).Int("trades", r.Trades).Msg("restored daily risk state")
		case !errors.Is(err, db.ErrNotFound):
			g.log.Warn().Err(err).Msg("load daily risk state failed; starting from zero")
		}
	}
	return g
}

// CanOpen reports whether a new position may be opened given the number of
// open positions plus in-flight entries. The reason is empty when allowed.
func (g *Gate) CanOpen(openCount int) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	if openCount >= g.cfg.MaxOpenPositions {
		g.rejections++
		return false, ReasonMaxOpen
	}
	if g.capHitLocked() {
		g.rejections++
		return false, ReasonLossCap
	}
	return true, ""
}

// OnClose adds realized P&L from a closed trade to today's tally.
func (g *Gate) OnClose(pnl float64) {
	g.mu.Lock()
	g.rolloverLocked()

	g.state.CumPnL += pnl
	g.state.Trades++

	g.total += pnl
	if g.total > g.maxProfit {
		g.maxProfit = g.total
	}
	if dd := g.maxProfit - g.total; dd > g.drawdown {
		g.drawdown = dd
	}
	snapshot := g.state
	capHit := g.capHitLocked()
	g.mu.Unlock()

	if capHit {
		g.log.Warn().Float64("cum_pnl", snapshot.CumPnL).Float64("cap", g.cfg.DailyLossCap).Msg("daily loss cap reached; new entries blocked until UTC rollover")
	}
	g.persist(snapshot)
}

// State returns today's tally.
func (g *Gate) State() DailyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.state
}

// Metrics returns a snapshot for the control API.
func (g *Gate) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return Metrics{
		Day:              g.state.Day.Format(dayKeyLayout),
		DailyPnL:         g.state.CumPnL,
		DailyTrades:      g.state.Trades,
		DailyLossCap:     g.cfg.DailyLossCap,
		CapHit:           g.capHitLocked(),
		MaxOpenPositions: g.cfg.MaxOpenPositions,
		TotalRealizedPnL: g.total,
		MaxDrawdown:      g.drawdown,
		MaxProfit:        g.maxProfit,
		Rejections:       g.rejections,
	}
}

func (g *Gate) capHitLocked() bool {
	return g.state.CumPnL <= -math.Abs(g.cfg.DailyLossCap)
}

func (g *Gate) rolloverLocked() {
	today := utcDay(g.now())
	if today.Equal(g.state.Day) {
		return
	}
	g.log.Info().
		Str("prev_day", g.state.Day.Format(dayKeyLayout)).
		Float64("prev_pnl", g.state.CumPnL).
		Int("prev_trades", g.state.Trades).
		Msg("daily risk state reset")
	g.state = DailyState{Day: today}
}

func (g *Gate) persist(s DailyState) {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := g.store.SaveRiskDay(ctx, db.RiskDay{Day: s.Day.Format(dayKeyLayout), CumPnL: s.CumPnL, Trades: s.Trades})
	if err != nil {
		g.log.Warn().Err(err).Msg("persist daily risk state failed")
	}
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
