package engine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/internal/events"
	"momentum-core/internal/order"
	"momentum-core/internal/strategy"
	"momentum-core/pkg/config"
	"momentum-core/pkg/db"
	"momentum-core/pkg/exchanges/paper"
)

func newTestEngine(t *testing.T, yaml string) (*Engine, *db.Database) {
	t.Helper()
	e, database, _ := newEngineOn(t, yaml, "paper", zerolog.Nop(), paper.Config{Seed: 7})
	return e, database
}

// newEngineOn builds an engine in mode over a fresh simulated venue.
func newEngineOn(t *testing.T, yaml, mode string, log zerolog.Logger, venue paper.Config) (*Engine, *db.Database, *paper.Exchange) {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	cfg.Mode = mode
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	ex := paper.New(venue)
	e, err := New(cfg, Deps{
		Exchange: ex,
		DB:       database,
		Log:      log,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		e.Close()
		database.Close()
	})
	return e, database, ex
}

func TestPaperCycleOpensScalesAndClosesPosition(t *testing.T) {
	e, database := newTestEngine(t, "symbols: [BTCUSDT]\ntimeframe: 1m\nforce_test_signal: true\n")
	ctx := context.Background()

	results, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(results) != 1 || !results[0].Dispatched || results[0].Outcome != strategy.OutcomeForced {
		t.Fatalf("results=%+v, expected one dispatched forced candidate", results)
	}

	positions := e.Positions(ctx)
	if len(positions) != 1 {
		t.Fatalf("len(Positions)=%d, expected 1", len(positions))
	}
	p := positions[0]
	if err := e.journal.Flush(ctx); err != nil {
		t.Fatalf("journal flush: %v", err)
	}
	if _, err := database.GetOrder(ctx, p.OrderID); err != nil {
		t.Fatalf("GetOrder(%s): %v", p.OrderID, err)
	}

	// 1R then 3R above entry.
	e.Bus().Publish(events.EventPriceTick, events.PriceTick{Symbol: "BTCUSDT", Price: p.Entry + 1.1*p.RiskPerUnit})
	if got, ok := e.positions.Get("BTCUSDT"); !ok || !got.Stage1Done {
		t.Fatalf("position=%+v, expected stage 1 done", got)
	}
	e.Bus().Publish(events.EventPriceTick, events.PriceTick{Symbol: "BTCUSDT", Price: p.Entry + 3.1*p.RiskPerUnit})
	if e.positions.OpenCount() != 0 {
		t.Fatalf("OpenCount=%d, expected 0 after TP2", e.positions.OpenCount())
	}

	trades, err := e.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].PnL <= 0 {
		t.Fatalf("trades=%+v, expected one winning trade", trades)
	}
	if m := e.RiskMetrics(ctx); m.DailyTrades != 1 || m.DailyPnL <= 0 {
		t.Fatalf("risk metrics=%+v, expected one winning trade today", m)
	}

	st := e.Status(ctx)
	if st.Mode != "paper" || st.OpenPositions != 0 || st.Prices["BTCUSDT"].Price == 0 {
		t.Fatalf("status=%+v", st)
	}
	if m := e.Metrics(); m.Scans != 1 || m.Orders != 1 || m.Trades != 1 {
		t.Fatalf("metrics=%+v, expected 1 scan, 1 order, 1 trade", m)
	}
}

func TestArmingRequiresLiveMode(t *testing.T) {
	e, _ := newTestEngine(t, "symbols: [BTCUSDT]\n")
	if err := e.ArmLive(); !errors.Is(err, ErrNotLive) {
		t.Fatalf("ArmLive err=%v, expected ErrNotLive", err)
	}
	if err := e.DisarmLive(); !errors.Is(err, ErrNotLive) {
		t.Fatalf("DisarmLive err=%v, expected ErrNotLive", err)
	}
}

func TestArmLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	e, _, _ := newEngineOn(t, "symbols: [BTCUSDT]\n", "live", zerolog.New(&buf), paper.Config{Seed: 7})
	if err := e.ArmLive(); err != nil {
		t.Fatalf("ArmLive: %v", err)
	}
	if err := e.DisarmLive(); err != nil {
		t.Fatalf("DisarmLive: %v", err)
	}
	for _, msg := range []string{"live trading armed", "live trading disarmed"} {
		if n := strings.Count(buf.String(), msg); n != 1 {
			t.Fatalf("%q logged %d times, expected once", msg, n)
		}
	}
}

func TestLiveScaleOutCancelsRestingExits(t *testing.T) {
	e, _, ex := newEngineOn(t, "symbols: [BTCUSDT]\ntimeframe: 1m\nforce_test_signal: true\n", "live", zerolog.Nop(), paper.Config{Seed: 7})
	ctx := context.Background()
	if err := e.ArmLive(); err != nil {
		t.Fatalf("ArmLive: %v", err)
	}

	results, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(results) != 1 || !results[0].Dispatched {
		t.Fatalf("results=%+v, expected one dispatched candidate", results)
	}
	p, ok := e.positions.Get("BTCUSDT")
	if !ok {
		t.Fatalf("no position after a live fill")
	}
	if len(p.ExitOrderIDs) != 2 || len(ex.Resting()) != 2 {
		t.Fatalf("exits=%v resting=%v, expected take-profit and stop resting", p.ExitOrderIDs, ex.Resting())
	}

	e.Bus().Publish(events.EventPriceTick, events.PriceTick{Symbol: "BTCUSDT", Price: p.Entry + 1.1*p.RiskPerUnit})
	got, ok := e.positions.Get("BTCUSDT")
	if !ok || !got.Stage1Done {
		t.Fatalf("position=%+v, expected stage 1 done", got)
	}
	if len(ex.Resting()) != 0 || len(got.ExitOrderIDs) != 0 || got.NativeStop {
		t.Fatalf("resting=%v position=%+v, expected exits withdrawn after the partial", ex.Resting(), got)
	}

	e.Bus().Publish(events.EventPriceTick, events.PriceTick{Symbol: "BTCUSDT", Price: p.Entry + 3.1*p.RiskPerUnit})
	if e.positions.OpenCount() != 0 || len(ex.Resting()) != 0 {
		t.Fatalf("open=%d resting=%v, expected flat with nothing resting", e.positions.OpenCount(), ex.Resting())
	}
	if held, _ := ex.Balance(ctx, "BTC"); held > 1e-9 {
		t.Fatalf("BTC=%v, expected the whole fill sold", held)
	}
}

func TestRepeatFillsMergeWhenDedupOff(t *testing.T) {
	e, _, ex := newEngineOn(t, "symbols: [BTCUSDT]\ntimeframe: 1m\nforce_test_signal: true\ndedup_by_symbol: false\n", "paper", zerolog.Nop(),
		paper.Config{Seed: 7, Volatility: 1e-6})
	ctx := context.Background()

	var placed []*order.Result
	e.Bus().Handle(events.EventOrderPlaced, func(p any) { placed = append(placed, p.(*order.Result)) })

	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// a near-flat bar keeps the first position clear of its exits
	ex.Step()
	e.SetTestSignal(true)
	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}

	if len(placed) != 2 || e.positions.OpenCount() != 1 {
		t.Fatalf("placed=%d open=%d, expected two fills in one position", len(placed), e.positions.OpenCount())
	}
	p, _ := e.positions.Get("BTCUSDT")
	wantQty := placed[0].FilledQty() + placed[1].FilledQty()
	if math.Abs(p.Remaining-wantQty) > 1e-9 {
		t.Fatalf("Remaining=%v, expected both fills tracked (%v)", p.Remaining, wantQty)
	}
}

func TestStrictnessControls(t *testing.T) {
	e, _ := newTestEngine(t, "symbols: [BTCUSDT]\n")

	if s := e.SetLooseness(0.9); s.Looseness != strategy.MaxLooseness {
		t.Fatalf("Looseness=%v, expected clamp to %v", s.Looseness, strategy.MaxLooseness)
	}
	if s, err := e.SetStrictnessMode("strict"); err != nil || s.Looseness != 0 {
		t.Fatalf("SetStrictnessMode(strict)=%+v,%v", s, err)
	}
	if _, err := e.SetStrictnessMode("sloppy"); err == nil {
		t.Fatalf("SetStrictnessMode(sloppy) err=nil, expected error")
	}
	if s := e.SetTestSignal(true); !s.ForceTestSignal {
		t.Fatalf("ForceTestSignal=false after enabling")
	}
}

func TestSubscribeStreamsHubEvents(t *testing.T) {
	e, _ := newTestEngine(t, "symbols: [BTCUSDT]\n")
	ch, unsub := e.Subscribe(8)

	e.Bus().Publish(events.EventRiskRejected, events.RiskRejected{Symbol: "BTCUSDT", Reason: "daily loss cap hit"})
	select {
	case ev := <-ch:
		if ev.Topic != events.EventRiskRejected {
			t.Fatalf("Topic=%s, expected %s", ev.Topic, events.EventRiskRejected)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}

	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
}
