// Package scanner drives the periodic market scan: fetch candles, evaluate,
// review, admit and dispatch, one symbol at a time.
package scanner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/internal/advisor"
	"momentum-core/internal/events"
	"momentum-core/internal/orderflow"
	"momentum-core/internal/strategy"
	"momentum-core/pkg/exchanges/common"
)

// Config controls what is scanned and how often. DedupBySymbol skips a
// symbol with an open position or an entry in flight; with it off, a
// further fill is merged into the open position.
type Config struct {
	Symbols       []string      `yaml:"symbols" validate:"required,min=1,dive,required"`
	CandleLimit   int           `yaml:"candle_limit" default:"200" validate:"gte=2"`
	Equity        float64       `yaml:"equity" default:"500" validate:"gt=0"`
	DedupBySymbol bool          `yaml:"dedup_by_symbol" default:"true"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" default:"15s"`

	// EquityFromBalance sizes from the synced quote balance when one is
	// available, falling back to Equity.
	EquityFromBalance bool `yaml:"equity_from_balance"`
}

// Positions is the view of open positions the loop needs for admission.
type Positions interface {
	OpenCount() int
	Has(symbol string) bool
}

// Dispatcher accepts admitted candidates.
type Dispatcher interface {
	Submit(ctx context.Context, sig *strategy.Signal) bool
	InFlight(symbol string) bool
	PendingCount() int
}

// Admission is the risk gate.
type Admission interface {
	CanOpen(openCount int) (bool, string)
}

// EquitySource reports the current sizing equity; zero means unknown.
type EquitySource interface {
	Equity() float64
}

// CycleObserver receives the duration of each completed cycle.
type CycleObserver interface {
	ObserveCycle(d time.Duration)
	RecordError()
}

// Deps groups the collaborators of a Loop. Flow, Advisor, Observer and
// Balance are optional.
type Deps struct {
	Exchange   common.Exchange
	Generator  *strategy.Generator
	Strictness *strategy.Strictness
	Advisor    advisor.Advisor
	Flow       *orderflow.Service
	Positions  Positions
	Gate       Admission
	Dispatcher Dispatcher
	Bus        *events.Bus
	Observer   CycleObserver
	Balance    EquitySource
	Log        zerolog.Logger
}

// Loop is the scanner. It is driven by a single goroutine.
type Loop struct {
	cfg       Config
	timeframe string
	mode      string
	d         Deps
	now       func() time.Time
}

// SymbolResult summarizes what happened to one symbol in a cycle.
type SymbolResult struct {
	Symbol     string           `json:"symbol"`
	Close      float64          `json:"close"`
	Outcome    strategy.Outcome `json:"outcome"`
	Detail     string           `json:"detail,omitempty"`
	Verdict    *advisor.Verdict `json:"verdict,omitempty"`
	Dispatched bool             `json:"dispatched"`
	Err        string           `json:"error,omitempty"`
}

// Skip reasons recorded in SymbolResult.Detail after a signal was produced.
const (
	DetailAdvisorRejected = "advisor_rejected"
	DetailDedup           = "position_open_or_in_flight"
	DetailNotSubmitted    = "dispatcher_refused"
)

// New creates a loop. mode is reported in every heartbeat.
func New(cfg Config, mode string, d Deps) *Loop {
	return &Loop{
		cfg:       cfg,
		timeframe: d.Generator.Config().Timeframe,
		mode:      mode,
		d:         d,
		now:       time.Now,
	}
}

// Run scans until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	interval := TimeframeDuration(l.timeframe)
	l.d.Log.Info().
		Strs("symbols", l.cfg.Symbols).
		Str("timeframe", l.timeframe).
		Str("mode", l.mode).
		Msg("scan loop started")

	for {
		start := l.now()
		l.RunOnce(ctx)
		elapsed := l.now().Sub(start)

		sleep := max(time.Second, interval-elapsed)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.d.Log.Info().Msg("scan loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce executes a single cycle across all symbols.
func (l *Loop) RunOnce(ctx context.Context) []SymbolResult {
	start := l.now()
	l.d.Bus.Publish(events.EventHeartbeat, events.Heartbeat{TS: start.UTC(), Mode: l.mode})
	snap := l.d.Strictness.Snapshot()

	results := make([]SymbolResult, 0, len(l.cfg.Symbols))
	for _, sym := range l.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}
		res := l.scanSymbol(ctx, sym, snap)
		if res.Err != "" && l.d.Observer != nil {
			l.d.Observer.RecordError()
		}
		results = append(results, res)
	}

	if l.d.Observer != nil {
		l.d.Observer.ObserveCycle(l.now().Sub(start))
	}
	return results
}

func (l *Loop) scanSymbol(ctx context.Context, sym string, snap strategy.StrictnessSnapshot) (res SymbolResult) {
	res.Symbol = sym
	log := l.d.Log.With().Str("symbol", sym).Logger()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Sprintf("panic: %v", r)
			log.Error().Interface("panic", r).Msg("symbol scan panicked")
		}
	}()

	fctx, cancel := context.WithTimeout(ctx, l.fetchTimeout())
	candles, err := l.d.Exchange.FetchCandles(fctx, sym, l.timeframe, l.cfg.CandleLimit)
	cancel()
	if err != nil {
		res.Err = err.Error()
		log.Warn().Err(err).Msg("fetch candles failed")
		return res
	}
	if len(candles) == 0 {
		res.Outcome = strategy.OutcomeInsufficientHistory
		log.Debug().Msg("no candles")
		return res
	}

	res.Close = candles[len(candles)-1].Close
	l.d.Bus.Publish(events.EventPriceTick, events.PriceTick{Symbol: sym, Price: res.Close})

	eval := l.d.Generator.Evaluate(strategy.Input{
		Symbol:     sym,
		Exchange:   l.d.Exchange.Name(),
		Candles:    candles,
		Strictness: snap,
		Equity:     l.equity(),
		Flow:       l.flowFunc(ctx, sym, log),
	})
	res.Outcome = eval.Outcome
	res.Detail = eval.Detail

	log.Debug().
		Float64("close", res.Close).
		Float64("rel_vol", eval.Features.RelVolume).
		Float64("gap_pct", eval.Features.GapPct).
		Float64("looseness", snap.Looseness).
		Str("outcome", string(eval.Outcome)).
		Msg("scan")

	if eval.Signal == nil {
		return res
	}
	sig := eval.Signal

	open := l.d.Positions.OpenCount()
	verdict := advisor.Review(ctx, log, l.d.Advisor, sig, eval.Features, advisor.Context{
		ExecutionMode: l.mode,
		Looseness:     snap.Looseness,
		OpenPositions: open,
	})
	res.Verdict = &verdict
	if verdict.Comment != "" {
		sig.Note = strings.TrimSpace(sig.Note + " " + verdict.Comment)
	}

	l.d.Bus.Publish(events.EventSignalCreated, strategy.SignalCreated{
		Candidate: sig,
		Candles:   candles,
		Features:  eval.Features,
	})

	if !verdict.Approved {
		res.Detail = DetailAdvisorRejected
		log.Info().Strs("flags", verdict.Flags).Msg("advisor rejected candidate")
		return res
	}

	if l.cfg.DedupBySymbol && (l.d.Positions.Has(sym) || l.d.Dispatcher.InFlight(sym)) {
		res.Detail = DetailDedup
		log.Debug().Msg("position open or entry in flight, skipping")
		return res
	}

	if ok, reason := l.d.Gate.CanOpen(open + l.d.Dispatcher.PendingCount()); !ok {
		res.Detail = reason
		log.Info().Str("reason", reason).Msg("risk rejected candidate")
		l.d.Bus.Publish(events.EventRiskRejected, events.RiskRejected{Symbol: sym, Reason: reason})
		return res
	}

	if !l.d.Dispatcher.Submit(ctx, sig) {
		res.Detail = DetailNotSubmitted
		return res
	}
	res.Dispatched = true
	log.Info().
		Float64("entry", sig.Entry).
		Float64("stop", sig.Stop).
		Float64("target", sig.Target).
		Float64("qty", sig.Qty).
		Bool("forced", sig.Forced).
		Msg("candidate dispatched")
	return res
}

func (l *Loop) flowFunc(ctx context.Context, sym string, log zerolog.Logger) strategy.FlowFunc {
	if l.d.Flow == nil {
		return nil
	}
	return func() *orderflow.Ratios {
		fctx, cancel := context.WithTimeout(ctx, l.fetchTimeout())
		defer cancel()
		r, err := l.d.Flow.Ratios(fctx, sym)
		if err != nil {
			log.Warn().Err(err).Msg("order flow unavailable")
			return nil
		}
		return r
	}
}

func (l *Loop) equity() float64 {
	if l.cfg.EquityFromBalance && l.d.Balance != nil {
		if eq := l.d.Balance.Equity(); eq > 0 {
			return eq
		}
	}
	return l.cfg.Equity
}

func (l *Loop) fetchTimeout() time.Duration {
	if l.cfg.FetchTimeout <= 0 {
		return 15 * time.Second
	}
	return l.cfg.FetchTimeout
}

// TimeframeDuration parses "1m", "5m", "1h", "1d" style timeframes. Anything
// unparseable is treated as one minute.
func TimeframeDuration(tf string) time.Duration {
	tf = strings.TrimSpace(strings.ToLower(tf))
	if len(tf) < 2 {
		return time.Minute
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return time.Minute
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return time.Minute
	}
}
