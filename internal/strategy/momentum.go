package strategy

import (
	"math"
	"sync"
	"time"

	"momentum-core/internal/indicators"
	"momentum-core/internal/orderflow"
	"momentum-core/pkg/exchanges/common"
)

// Outcome names the result of one evaluation. Everything except
// OutcomeSignal is a normal cascade result, not an error.
type Outcome string

const (
	OutcomeSignal              Outcome = "signal"
	OutcomeForced              Outcome = "forced"
	OutcomeInsufficientHistory Outcome = "insufficient_history"
	OutcomeDuplicate           Outcome = "duplicate_candle"
	OutcomeOutOfSession        Outcome = "out_of_session"
	OutcomePrice               Outcome = "price_bounds"
	OutcomeRelVolume           Outcome = "rel_volume"
	OutcomeGap                 Outcome = "gap"
	OutcomeCandleStructure     Outcome = "candle_structure"
	OutcomeVolumeSpike         Outcome = "volume_spike"
	OutcomeOrderFlow           Outcome = "orderflow"
	OutcomeVolatility          Outcome = "volatility"
	OutcomeTrend               Outcome = "trend"
	OutcomeBreakout            Outcome = "breakout"
	OutcomeStop                Outcome = "stop_placement"
	OutcomeSizing              Outcome = "sizing"
)

// FlowFunc lazily fetches order-flow ratios; it is only called when the
// cascade reaches the order-flow gate.
type FlowFunc func() *orderflow.Ratios

// Input is everything one evaluation needs.
type Input struct {
	Symbol     string
	Exchange   string
	Candles    []common.Candle
	Strictness StrictnessSnapshot
	Equity     float64
	Flow       FlowFunc
}

// Evaluation is the result of one evaluation. Signal is nil unless Outcome is
// OutcomeSignal or OutcomeForced.
type Evaluation struct {
	Signal   *Signal
	Features indicators.Snapshot
	Outcome  Outcome
	Detail   string
}

// Generator runs the momentum filter cascade and holds per-symbol dedup state.
type Generator struct {
	cfg Config

	mu       sync.Mutex
	lastSeen map[string]time.Time
	forced   map[string]bool
}

// NewGenerator builds a generator; profiles in cfg are used as given.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		cfg:      cfg,
		lastSeen: make(map[string]time.Time),
		forced:   make(map[string]bool),
	}
}

// Config returns the generator's configuration.
func (g *Generator) Config() Config { return g.cfg }

// ResetForced lets the forced diagnostic candidate fire again for every symbol.
func (g *Generator) ResetForced() {
	g.mu.Lock()
	g.forced = make(map[string]bool)
	g.mu.Unlock()
}

// Evaluate runs one cycle for one symbol.
func (g *Generator) Evaluate(in Input) Evaluation {
	if len(in.Candles) < g.cfg.MinCandles || len(in.Candles) == 0 {
		return Evaluation{Outcome: OutcomeInsufficientHistory}
	}
	last := in.Candles[len(in.Candles)-1]

	g.mu.Lock()
	if prev, ok := g.lastSeen[in.Symbol]; ok && prev.Equal(last.Timestamp) {
		g.mu.Unlock()
		return Evaluation{Outcome: OutcomeDuplicate}
	}
	g.lastSeen[in.Symbol] = last.Timestamp
	g.mu.Unlock()

	feat := indicators.Compute(in.Candles, g.cfg.Indicators)
	eval := Evaluation{Features: feat}

	if in.Strictness.ForceTestSignal {
		// the once-per-symbol slot is only spent on a candidate that exists
		if sig := g.forcedSignal(in, feat); sig != nil && g.claimForced(in.Symbol) {
			eval.Signal = sig
			eval.Outcome = OutcomeForced
			return eval
		}
	}

	reject := func(o Outcome, detail string) Evaluation {
		eval.Outcome = o
		eval.Detail = detail
		return eval
	}

	loose := in.Strictness.Looseness
	relax := 1 - loose
	th := g.cfg.thresholdsFor(in.Symbol)
	px := last.Close

	if g.cfg.Session.Enabled && !inSession(last.Timestamp, g.cfg.Session) {
		return reject(OutcomeOutOfSession, "")
	}
	if px < g.cfg.MinPrice || px > g.cfg.MaxPrice {
		return reject(OutcomePrice, "")
	}
	if feat.RelVolume < th.minRelVol*relax {
		return reject(OutcomeRelVolume, "")
	}
	if feat.GapPct < th.minGapPct*relax {
		return reject(OutcomeGap, "")
	}
	if !candleStructureOK(last, g.cfg.MinBodyFrac, g.cfg.MaxUpperWickFrac) {
		return reject(OutcomeCandleStructure, "")
	}
	if feat.VolumeSpike < g.cfg.MinVolumeSpike {
		return reject(OutcomeVolumeSpike, "")
	}
	if g.cfg.OrderFlow.Enabled && in.Flow != nil {
		bidAsk, buySell := 1.0, 1.0
		if r := in.Flow(); r != nil {
			bidAsk, buySell = r.BidAsk, r.BuySell
		}
		if bidAsk < g.cfg.OrderFlow.MinBidAsk*relax {
			return reject(OutcomeOrderFlow, "bid_ask")
		}
		if buySell < g.cfg.OrderFlow.MinBuySell*relax {
			return reject(OutcomeOrderFlow, "buy_sell")
		}
	}
	if feat.ATR <= 0 || px <= 0 || feat.ATR/px < g.cfg.MinATRFrac {
		return reject(OutcomeVolatility, "")
	}

	tol := loose * feat.ATR
	if !(px > feat.EMAFast-tol && feat.EMAFast > feat.EMAMedium-tol && feat.EMAMedium > feat.EMASlow-tol) {
		return reject(OutcomeTrend, "")
	}
	if !(px > feat.BreakoutLevel-tol) {
		return reject(OutcomeBreakout, "")
	}

	stop := math.Min(feat.EMAMedium, recentLow(in.Candles, g.cfg.StopLookback))
	if stop >= px {
		return reject(OutcomeStop, "")
	}

	rpu := px - stop
	qty := in.Equity * g.cfg.RiskPerTrade * th.riskFactor / rpu
	sig, err := NewSignal(Signal{
		Symbol:    in.Symbol,
		Exchange:  in.Exchange,
		Timeframe: g.cfg.Timeframe,
		Side:      SideLong,
		Entry:     px,
		Stop:      stop,
		Target:    px + g.cfg.RMultiple*rpu,
		Qty:       qty,
		RelVolume: feat.RelVolume,
		GapPct:    feat.GapPct,
		Tier:      th.tier,
	})
	if err != nil {
		return reject(OutcomeSizing, err.Error())
	}
	eval.Signal = sig
	eval.Outcome = OutcomeSignal
	return eval
}

func (g *Generator) claimForced(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.ForceOncePerSymbol && g.forced[symbol] {
		return false
	}
	g.forced[symbol] = true
	return true
}

// forcedSignal builds a minimal-risk candidate: stop 0.1% below, target 0.1%
// above, sized like any candidate of the symbol's tier.
func (g *Generator) forcedSignal(in Input, feat indicators.Snapshot) *Signal {
	px := feat.Close
	if px <= 0 {
		return nil
	}
	th := g.cfg.thresholdsFor(in.Symbol)
	stop := px * 0.999
	sig, err := NewSignal(Signal{
		Symbol:    in.Symbol,
		Exchange:  in.Exchange,
		Timeframe: g.cfg.Timeframe,
		Side:      SideLong,
		Entry:     px,
		Stop:      stop,
		Target:    px * 1.001,
		Qty:       in.Equity * g.cfg.RiskPerTrade * th.riskFactor / (px - stop),
		RelVolume: feat.RelVolume,
		GapPct:    feat.GapPct,
		Tier:      th.tier,
		Forced:    true,
		Note:      "forced test signal",
	})
	if err != nil {
		return nil
	}
	return sig
}

func candleStructureOK(c common.Candle, minBody, maxWick float64) bool {
	rng := math.Max(1e-9, c.High-c.Low)
	body := math.Abs(c.Close - c.Open)
	upperWick := c.High - math.Max(c.Open, c.Close)
	return body/rng >= minBody && upperWick/rng <= maxWick
}

func recentLow(candles []common.Candle, n int) float64 {
	if n <= 0 {
		n = 1
	}
	if n > len(candles) {
		n = len(candles)
	}
	low := math.Inf(1)
	for _, c := range candles[len(candles)-n:] {
		low = math.Min(low, c.Low)
	}
	return low
}

// inSession reports whether ts falls in the window. A start after the end
// wraps past midnight, so 22 to 4 covers 22:00 through 03:59 UTC.
func inSession(ts time.Time, s SessionConfig) bool {
	h := ts.UTC().Hour()
	if s.StartHourUTC <= s.EndHourUTC {
		return s.StartHourUTC <= h && h < s.EndHourUTC
	}
	return h >= s.StartHourUTC || h < s.EndHourUTC
}
