package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"momentum-core/internal/advisor"
	"momentum-core/internal/balance"
	"momentum-core/internal/events"
	"momentum-core/internal/market"
	"momentum-core/internal/monitor"
	"momentum-core/internal/notification"
	"momentum-core/internal/order"
	"momentum-core/internal/orderflow"
	"momentum-core/internal/persistence"
	"momentum-core/internal/position"
	"momentum-core/internal/reconciliation"
	"momentum-core/internal/risk"
	"momentum-core/internal/scanner"
	"momentum-core/internal/strategy"
	"momentum-core/pkg/cache"
	"momentum-core/pkg/config"
	"momentum-core/pkg/db"
	"momentum-core/pkg/exchanges/common"
	"momentum-core/pkg/logger"
)

// Deps are process resources the engine uses but does not own. DB and Redis
// are optional.
type Deps struct {
	Exchange common.Exchange
	DB       *db.Database
	Redis    *redis.Client
	Log      zerolog.Logger
	Version  string
}

// Engine is the composition root: it owns the hub and every component
// subscribed to it.
type Engine struct {
	cfg     *config.Config
	mode    order.Mode
	log     zerolog.Logger
	version string
	started time.Time

	ex        common.Exchange
	db        *db.Database
	bus       *events.Bus
	monitor   *monitor.Monitor
	strict    *strategy.Strictness
	gen       *strategy.Generator
	gate      *risk.Gate
	exec      *order.Engine
	disp      *order.Dispatcher
	store     *position.RedisStore
	positions *position.Manager
	loop      *scanner.Loop
	journal   *persistence.Journal
	prices    *cache.Prices
	funds     *balance.Tracker
	recon     *reconciliation.Service
	feed      *market.Feed
	forwarder *notification.Forwarder

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
}

var _ Service = (*Engine)(nil)

// New builds and wires every component. Nothing runs until Start or Run.
func New(cfg *config.Config, d Deps) (*Engine, error) {
	if d.Exchange == nil {
		return nil, errors.New("engine: exchange is required")
	}
	mode, err := order.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	advMode, err := advisor.ParseMode(cfg.Advisor.Mode)
	if err != nil {
		return nil, err
	}

	log := d.Log
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		mode:    mode,
		log:     logger.Component(log, "engine"),
		version: d.Version,
		started: time.Now(),
		ex:      d.Exchange,
		db:      d.DB,
		prices:  cache.NewPrices(),
		ctx:     ctx,
		cancel:  cancel,
	}

	e.bus = events.NewBus(logger.Component(log, "events"))
	// Counters first so they see every event.
	e.monitor = monitor.New()
	e.monitor.Attach(e.bus)

	e.strict = strategy.NewStrictness(cfg.Strategy.LoosenFactor)
	e.strict.SetForceTestSignal(cfg.Strategy.ForceTestSignal)
	e.gen = strategy.NewGenerator(cfg.Strategy)

	gateOpts := []risk.Option{risk.WithLogger(logger.Component(log, "risk"))}
	if d.DB != nil {
		gateOpts = append(gateOpts, risk.WithStore(d.DB))
		e.journal = persistence.NewJournal(d.DB, 50, 500*time.Millisecond, logger.Component(log, "journal"))
	}
	e.gate = risk.NewGate(cfg.Risk, gateOpts...)

	e.funds = balance.NewTracker(d.Exchange, "USDT", cfg.Execution.BalanceInterval, logger.Component(log, "balance"))
	e.exec = order.NewEngine(mode, d.Exchange,
		order.WithTimeout(cfg.Execution.ExchangeTimeout),
		order.WithLogger(logger.Component(log, "execution")))
	var executor order.Executor = e.exec
	if mode == order.ModeLive {
		executor = reservingExecutor{next: e.exec, funds: e.funds}
	}
	e.disp = order.NewDispatcher(executor, e.bus, cfg.Execution.Workers, logger.Component(log, "dispatcher"))

	var closer position.Closer = position.PaperCloser{}
	if mode == order.ModeLive {
		closer = position.ExchangeCloser{Exchange: d.Exchange, Timeout: cfg.Execution.ExchangeTimeout}
	}
	e.store = position.NewRedisStore(d.Redis, logger.Component(log, "position-store"))
	e.positions = position.NewManager(cfg.ScaleOut, closer, e.bus,
		position.WithStore(e.store),
		position.WithLogger(logger.Component(log, "positions")))

	var adv advisor.Advisor
	if advMode != advisor.ModeOff {
		adv = advisor.NewRulesAdvisor(advMode, cfg.Advisor.Thresholds)
	}

	var flow *orderflow.Service
	if cfg.Strategy.OrderFlow.Enabled {
		if src, ok := d.Exchange.(common.OrderFlowSource); ok {
			flow = orderflow.NewService(src, cfg.Strategy.OrderFlow.BookDepth, cfg.Strategy.OrderFlow.TapeTrades)
		} else {
			e.log.Warn().Str("exchange", d.Exchange.Name()).Msg("order flow enabled but exchange has no book/tape; gate passes neutral ratios")
		}
	}

	e.loop = scanner.New(cfg.Scanner, string(mode), scanner.Deps{
		Exchange:   d.Exchange,
		Generator:  e.gen,
		Strictness: e.strict,
		Advisor:    adv,
		Flow:       flow,
		Positions:  e.positions,
		Gate:       e.gate,
		Dispatcher: e.disp,
		Bus:        e.bus,
		Observer:   e.monitor,
		Balance:    e.funds,
		Log:        logger.Component(log, "scanner"),
	})

	notifiers := notification.Multi{notification.LogNotifier{Log: logger.Component(log, "notify")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	e.forwarder = notification.NewForwarder(e.bus, notifiers, logger.Component(log, "notify"))

	if mode == order.ModeLive {
		e.recon = reconciliation.NewService(d.Exchange, e.positions, cfg.Scanner.Symbols,
			cfg.Execution.ReconcileInterval, 0.01, logger.Component(log, "reconcile"))
	}
	if src, ok := d.Exchange.(common.TickerSource); ok && cfg.Execution.PriceStream {
		e.feed = &market.Feed{
			Source:      src,
			Bus:         e.bus,
			Symbols:     cfg.Scanner.Symbols,
			MinInterval: cfg.Execution.StreamThrottle,
			Log:         logger.Component(log, "feed"),
		}
	}

	e.bus.Handle(events.EventPriceTick, e.onPriceTick)
	e.bus.Handle(events.EventOrderPlaced, e.onOrderPlaced)
	e.bus.Handle(events.EventTradeClosed, e.onTradeClosed)
	e.bus.Handle(events.EventExecutionFailed, e.onExecutionFailed)
	return e, nil
}

// Start connects the venue, restores open positions and launches the
// background workers. It runs once; later calls return the first result.
func (e *Engine) Start(ctx context.Context) error {
	e.startOnce.Do(func() { e.startErr = e.start(ctx) })
	return e.startErr
}

func (e *Engine) start(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.Execution.ExchangeTimeout)
	err := e.ex.Connect(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", e.ex.Name(), err)
	}

	n, err := e.positions.Restore(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("position restore failed; starting flat")
	} else if n > 0 {
		e.log.Info().Int("positions", n).Msg("restored open positions")
	}

	e.goBackground(e.forwarder.Run)
	e.goBackground(e.funds.Run)
	if e.recon != nil {
		e.goBackground(e.recon.Run)
	}
	if e.feed != nil {
		e.goBackground(e.feed.Run)
	}

	e.log.Info().
		Str("mode", string(e.mode)).
		Str("exchange", e.ex.Name()).
		Strs("symbols", e.cfg.Scanner.Symbols).
		Str("timeframe", e.cfg.Strategy.Timeframe).
		Bool("armed", e.exec.Armed()).
		Msg("engine started")
	return nil
}

func (e *Engine) goBackground(fn func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// Run starts the engine and scans until ctx is cancelled. Cancellation is
// a clean shutdown and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	if err := e.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunOnce starts the engine if needed, runs one scan cycle and waits for the
// entries it dispatched.
func (e *Engine) RunOnce(ctx context.Context) ([]scanner.SymbolResult, error) {
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	results := e.loop.RunOnce(ctx)
	e.disp.Wait()
	return results, nil
}

// Close drains pending entries, stops the background workers and flushes
// the journal. The exchange, DB and Redis client stay open.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.disp.Close()
		e.cancel()
		e.wg.Wait()
		if e.journal != nil {
			e.journal.Close()
		}
		e.log.Info().Msg("engine stopped")
	})
}

// Bus exposes the hub, mainly for tests and the CLI.
func (e *Engine) Bus() *events.Bus { return e.bus }

func (e *Engine) onPriceTick(p any) {
	tick, ok := p.(events.PriceTick)
	if !ok {
		return
	}
	e.prices.Set(tick.Symbol, tick.Price)
	e.positions.OnPriceTick(e.ctx, tick.Symbol, tick.Price)
}

func (e *Engine) onOrderPlaced(p any) {
	res, ok := p.(*order.Result)
	if !ok {
		return
	}
	e.positions.Register(res)
	if e.journal != nil {
		e.journal.Order(order.Record(res))
	}
}

func (e *Engine) onTradeClosed(p any) {
	t, ok := p.(position.Trade)
	if !ok {
		return
	}
	e.gate.OnClose(t.PnL)
	if e.journal != nil {
		e.journal.Trade(t.Record())
	}
}

func (e *Engine) onExecutionFailed(p any) {
	f, ok := p.(events.ExecutionFailed)
	if !ok || !f.Fatal {
		return
	}
	e.log.Error().Str("symbol", f.Symbol).Str("error", f.Error).
		Msg("live execution refused: arm live trading or switch EXECUTION_MODE to paper")
}

// reservingExecutor holds the entry notional against the synced balance
// while the order is in flight so concurrent entries cannot overspend.
type reservingExecutor struct {
	next  order.Executor
	funds *balance.Tracker
}

func (r reservingExecutor) Execute(ctx context.Context, sig *strategy.Signal) (*order.Result, error) {
	if r.funds.Snapshot().LastSync.IsZero() {
		return r.next.Execute(ctx, sig)
	}
	notional := sig.Entry * sig.Qty
	if err := r.funds.Reserve(notional); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRejected, err)
	}
	defer r.funds.Release(notional)
	return r.next.Execute(ctx, sig)
}

// --- Service ---

func (e *Engine) Status(context.Context) Status {
	snap := e.monitor.Metrics.GetSnapshot()
	st := Status{
		Mode:           string(e.mode),
		Exchange:       e.ex.Name(),
		Armed:          e.exec.Armed(),
		Version:        e.version,
		StartedAt:      e.started,
		Uptime:         time.Since(e.started).Round(time.Second).String(),
		Timeframe:      e.cfg.Strategy.Timeframe,
		Symbols:        e.cfg.Scanner.Symbols,
		Strictness:     e.strict.Snapshot(),
		OpenPositions:  e.positions.OpenCount(),
		PendingEntries: e.disp.PendingCount(),
		LastHeartbeat:  snap.LastHeartbeat,
		Prices:         e.prices.Snapshot(),
		PositionStore:  "memory",
	}
	// Two missed cycles make a quote stale.
	st.StalePrices = e.prices.Stale(2 * scanner.TimeframeDuration(e.cfg.Strategy.Timeframe))
	if b := e.funds.Snapshot(); !b.LastSync.IsZero() || b.Err != "" {
		st.Balance = &b
	}
	if e.recon != nil {
		st.Reconcile = e.recon.Last()
	}
	if e.journal != nil {
		st.Journal = e.journal.Metrics()
	}
	if e.store.Available() {
		st.PositionStore = "redis"
	}
	return st
}

func (e *Engine) Positions(context.Context) []position.Position { return e.positions.Positions() }

// RecentTrades flushes the journal first so just-closed trades are visible.
func (e *Engine) RecentTrades(ctx context.Context, limit int) ([]db.Trade, error) {
	if e.db == nil {
		return nil, errors.New("trade history unavailable: no database")
	}
	if e.journal != nil {
		if err := e.journal.Flush(ctx); err != nil {
			e.log.Warn().Err(err).Msg("journal flush before trade query failed")
		}
	}
	return e.db.RecentTrades(ctx, limit)
}

func (e *Engine) RiskMetrics(context.Context) risk.Metrics { return e.gate.Metrics() }

func (e *Engine) Metrics() monitor.MetricsSnapshot { return e.monitor.Metrics.GetSnapshot() }

func (e *Engine) MetricsHandler() http.Handler { return e.monitor.Recorder.Handler() }

func (e *Engine) Strictness() strategy.StrictnessSnapshot { return e.strict.Snapshot() }

func (e *Engine) SetLooseness(v float64) strategy.StrictnessSnapshot {
	applied := e.strict.SetLooseness(v)
	e.log.Info().Float64("looseness", applied).Msg("strictness changed")
	return e.strict.Snapshot()
}

func (e *Engine) SetStrictnessMode(mode string) (strategy.StrictnessSnapshot, error) {
	applied, err := e.strict.SetMode(mode)
	if err != nil {
		return e.strict.Snapshot(), err
	}
	e.log.Info().Str("mode", mode).Float64("looseness", applied).Msg("strictness changed")
	return e.strict.Snapshot(), nil
}

// SetTestSignal toggles the forced diagnostic candidate. Enabling it lets
// every symbol fire once more.
func (e *Engine) SetTestSignal(on bool) strategy.StrictnessSnapshot {
	if on {
		e.gen.ResetForced()
	}
	e.strict.SetForceTestSignal(on)
	e.log.Warn().Bool("force_test_signal", on).Msg("test signal toggled")
	return e.strict.Snapshot()
}

func (e *Engine) ArmLive() error {
	if e.mode != order.ModeLive {
		return ErrNotLive
	}
	e.exec.Arm()
	return nil
}

func (e *Engine) DisarmLive() error {
	if e.mode != order.ModeLive {
		return ErrNotLive
	}
	e.exec.Disarm()
	return nil
}

// Subscribe fans every hub topic into one channel. A slow reader loses
// events rather than stalling the hub.
func (e *Engine) Subscribe(buffer int) (<-chan StreamEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan StreamEvent, buffer)
	var (
		wg     sync.WaitGroup
		unsubs []func()
	)
	for _, topic := range events.All {
		ch, unsub := e.bus.Subscribe(topic, buffer)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range ch {
				select {
				case out <- StreamEvent{Topic: topic, Data: p, TS: time.Now().UTC()}:
				default:
				}
			}
		}()
	}

	var once sync.Once
	return out, func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			wg.Wait()
			close(out)
		})
	}
}
