package position

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/internal/events"
	"momentum-core/internal/order"
	"momentum-core/internal/strategy"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func paperResult(side strategy.Side, entry, stop, target, qty float64) *order.Result {
	sig := &strategy.Signal{
		Symbol: "BTCUSDT", Exchange: "paper", Timeframe: "5m", Side: side,
		Entry: entry, Stop: stop, Target: target, Qty: qty,
		CreatedAt: time.Unix(1700000000, 0),
	}
	return &order.Result{
		Candidate:   sig,
		OrderID:     "PAPER-BTCUSDT-1700000000",
		Mode:        order.ModePaper,
		FilledPrice: entry,
		Status:      "filled",
		Stop:        &stop,
		Target:      &target,
		Qty:         &qty,
	}
}

func TestScaleOutLifecycle(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var (
		scaled []Event
		closed []Trade
	)
	bus.Handle(events.EventPositionScaled, func(p any) { scaled = append(scaled, p.(Event)) })
	bus.Handle(events.EventTradeClosed, func(p any) { closed = append(closed, p.(Trade)) })

	m := NewManager(DefaultScaleOut(), PaperCloser{}, bus)
	m.Register(paperResult(strategy.SideLong, 100, 99, 102, 10))
	ctx := context.Background()

	if ev := m.OnPriceTick(ctx, "BTCUSDT", 100.5); ev != nil {
		t.Fatalf("tick below TP1 produced %+v", ev)
	}

	ev := m.OnPriceTick(ctx, "BTCUSDT", 101)
	if ev == nil || ev.Kind != EventTP1Hit {
		t.Fatalf("event=%+v, expected TP1_HIT", ev)
	}
	if !approx(ev.Qty, 5) || !approx(ev.PnL, 5) || !approx(ev.Remaining, 5) {
		t.Fatalf("TP1 qty=%v pnl=%v remaining=%v, expected 5/5/5", ev.Qty, ev.PnL, ev.Remaining)
	}
	if !approx(ev.NewStop, 100.1) {
		t.Fatalf("NewStop=%v, expected 100.1", ev.NewStop)
	}
	p, _ := m.Get("BTCUSDT")
	if !p.Stage1Done || p.Stage != StageScaled || !approx(p.CurrentStop, 100.1) {
		t.Fatalf("position after TP1=%+v", p)
	}

	// TP1 never fires twice
	if ev := m.OnPriceTick(ctx, "BTCUSDT", 101.5); ev != nil {
		t.Fatalf("second tick between TP1 and TP2 produced %+v", ev)
	}

	ev = m.OnPriceTick(ctx, "BTCUSDT", 103)
	if ev == nil || ev.Kind != EventTP2Hit || ev.Trade == nil {
		t.Fatalf("event=%+v, expected TP2_HIT with trade", ev)
	}
	if !approx(ev.PnL, 15) {
		t.Fatalf("TP2 fill pnl=%v, expected 15", ev.PnL)
	}
	tr := *ev.Trade
	if !approx(tr.PnL, 20) || tr.Reason != ReasonTP2 || len(tr.Fills) != 2 {
		t.Fatalf("trade=%+v, expected pnl 20 over 2 fills", tr)
	}
	if !approx(tr.Exit, 102) {
		t.Fatalf("Exit=%v, expected weighted 102", tr.Exit)
	}

	if m.OpenCount() != 0 {
		t.Fatalf("OpenCount=%d after full close", m.OpenCount())
	}
	if ev := m.OnPriceTick(ctx, "BTCUSDT", 110); ev != nil {
		t.Fatalf("closed position still reacting: %+v", ev)
	}
	if len(scaled) != 1 || len(closed) != 1 {
		t.Fatalf("published scaled=%d closed=%d, expected 1/1", len(scaled), len(closed))
	}
}

func TestStopMonitor(t *testing.T) {
	tests := []struct {
		name       string
		ticks      []float64
		wantReason string
		wantPnL    float64
	}{
		{"initial stop", []float64{99.5, 98.9}, ReasonStop, -11},
		{"breakeven after TP1", []float64{101, 100.05}, ReasonBreakeven, 5.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(DefaultScaleOut(), PaperCloser{}, nil)
			m.Register(paperResult(strategy.SideLong, 100, 99, 102, 10))

			var last *Event
			for _, px := range tt.ticks {
				last = m.OnPriceTick(context.Background(), "BTCUSDT", px)
			}
			if last == nil || last.Trade == nil {
				t.Fatalf("no trade closed, last event=%+v", last)
			}
			if last.Trade.Reason != tt.wantReason || !approx(last.Trade.PnL, tt.wantPnL) {
				t.Fatalf("reason=%s pnl=%v, expected %s %v", last.Trade.Reason, last.Trade.PnL, tt.wantReason, tt.wantPnL)
			}
		})
	}
}

func TestShortScaleOut(t *testing.T) {
	m := NewManager(DefaultScaleOut(), PaperCloser{}, nil)
	m.Register(paperResult(strategy.SideShort, 100, 101, 98, 4))

	ev := m.OnPriceTick(context.Background(), "BTCUSDT", 99)
	if ev == nil || ev.Kind != EventTP1Hit || !approx(ev.PnL, 2) {
		t.Fatalf("event=%+v, expected TP1_HIT with pnl 2", ev)
	}
	if !approx(ev.NewStop, 99.9) {
		t.Fatalf("NewStop=%v, expected 99.9", ev.NewStop)
	}
}

func TestScaleOutDisabledExitsAtTarget(t *testing.T) {
	cfg := DefaultScaleOut()
	cfg.Enabled = false
	m := NewManager(cfg, PaperCloser{}, nil)
	m.Register(paperResult(strategy.SideLong, 100, 99, 102, 10))

	if ev := m.OnPriceTick(context.Background(), "BTCUSDT", 101); ev != nil {
		t.Fatalf("TP1 fired with scale-out disabled: %+v", ev)
	}
	ev := m.OnPriceTick(context.Background(), "BTCUSDT", 102)
	if ev == nil || ev.Kind != EventTargetHit || !approx(ev.Trade.PnL, 20) {
		t.Fatalf("event=%+v, expected TARGET_HIT pnl 20", ev)
	}
}

type flakyCloser struct{ fails int }

func (f *flakyCloser) Close(_ context.Context, _ Position, _ float64, price float64) (float64, error) {
	if f.fails > 0 {
		f.fails--
		return 0, errors.New("venue timeout")
	}
	return price, nil
}

func TestFailedCloseRetriesNextTick(t *testing.T) {
	m := NewManager(DefaultScaleOut(), &flakyCloser{fails: 1}, nil)
	m.Register(paperResult(strategy.SideLong, 100, 99, 102, 10))

	if ev := m.OnPriceTick(context.Background(), "BTCUSDT", 101); ev != nil {
		t.Fatalf("failed close produced %+v", ev)
	}
	p, _ := m.Get("BTCUSDT")
	if p.Stage1Done || !approx(p.Remaining, 10) {
		t.Fatalf("state mutated by failed close: %+v", p)
	}
	if ev := m.OnPriceTick(context.Background(), "BTCUSDT", 101); ev == nil || ev.Kind != EventTP1Hit {
		t.Fatalf("retry event=%+v, expected TP1_HIT", ev)
	}
}

func TestNativeStopSkipsMonitorUntilBreakeven(t *testing.T) {
	m := NewManager(DefaultScaleOut(), PaperCloser{}, nil)
	r := paperResult(strategy.SideLong, 100, 99, 102, 10)
	stopID := "venue-stop-1"
	r.StopOrderID = &stopID
	m.Register(r)

	if ev := m.OnPriceTick(context.Background(), "BTCUSDT", 98.5); ev != nil {
		t.Fatalf("monitor closed a position protected by a venue stop: %+v", ev)
	}
}

func TestRegisterMergesSecondFill(t *testing.T) {
	tests := []struct {
		name       string
		first      *order.Result
		second     *order.Result
		wantEntry  float64
		wantStop   float64
		wantTarget float64
	}{
		{
			name:       "long adds higher",
			first:      paperResult(strategy.SideLong, 100, 99, 102, 10),
			second:     paperResult(strategy.SideLong, 110, 108, 116, 10),
			wantEntry:  105,
			wantStop:   99,
			wantTarget: 116,
		},
		{
			name:       "short adds lower",
			first:      paperResult(strategy.SideShort, 100, 101, 97, 3),
			second:     paperResult(strategy.SideShort, 96, 98, 90, 1),
			wantEntry:  99,
			wantStop:   101,
			wantTarget: 90,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(DefaultScaleOut(), PaperCloser{}, nil)
			first := m.Register(tt.first)
			got := m.Register(tt.second)

			if m.OpenCount() != 1 || got.ID != first.ID {
				t.Fatalf("OpenCount=%d id=%s, expected the fill merged into %s", m.OpenCount(), got.ID, first.ID)
			}
			wantQty := *tt.first.Qty + *tt.second.Qty
			if !approx(got.Qty, wantQty) || !approx(got.Remaining, wantQty) {
				t.Fatalf("qty=%v remaining=%v, expected %v", got.Qty, got.Remaining, wantQty)
			}
			if !approx(got.Entry, tt.wantEntry) || got.CurrentStop != tt.wantStop || got.Target != tt.wantTarget {
				t.Fatalf("entry=%v stop=%v target=%v, expected %v/%v/%v",
					got.Entry, got.CurrentStop, got.Target, tt.wantEntry, tt.wantStop, tt.wantTarget)
			}
			if !approx(got.RiskPerUnit, math.Abs(tt.wantEntry-tt.wantStop)) {
				t.Fatalf("RiskPerUnit=%v, expected %v", got.RiskPerUnit, math.Abs(tt.wantEntry-tt.wantStop))
			}
		})
	}
}

func TestMergeRestartsScaleOut(t *testing.T) {
	m := NewManager(DefaultScaleOut(), PaperCloser{}, nil)
	ctx := context.Background()
	m.Register(paperResult(strategy.SideLong, 100, 99, 102, 10))
	if ev := m.OnPriceTick(ctx, "BTCUSDT", 101); ev == nil || ev.Kind != EventTP1Hit {
		t.Fatalf("event=%+v, expected TP1_HIT", ev)
	}

	got := m.Register(paperResult(strategy.SideLong, 101, 100, 104, 5))
	// 5 left at 100 plus 5 at 101; breakeven stop 100.1 is tighter than 100
	if got.Stage1Done || got.Stage != StageOpen || !approx(got.Remaining, 10) || !approx(got.Entry, 100.5) {
		t.Fatalf("merged=%+v, expected a fresh 10 @ 100.5", got)
	}
	if got.CurrentStop != 100 {
		t.Fatalf("CurrentStop=%v, expected the wider 100", got.CurrentStop)
	}
	if !approx(got.RealizedPnL, 5) {
		t.Fatalf("RealizedPnL=%v, expected the first partial kept", got.RealizedPnL)
	}
}

// venueCloser records cancels and closes and can fail a given order id.
type venueCloser struct {
	cancelled []string
	closed    []float64
	failID    string
	err       error
}

func (v *venueCloser) Close(_ context.Context, _ Position, qty, price float64) (float64, error) {
	v.closed = append(v.closed, qty)
	return price, nil
}

func (v *venueCloser) CancelExit(_ context.Context, _ Position, orderID string) error {
	if orderID == v.failID && v.err != nil {
		err := v.err
		v.err = nil
		return err
	}
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func liveResult(entry, stop, target, qty float64) *order.Result {
	r := paperResult(strategy.SideLong, entry, stop, target, qty)
	r.Mode = order.ModeLive
	tp, sl := "tp-1", "sl-1"
	r.TakeProfitOrderID = &tp
	r.StopOrderID = &sl
	return r
}

func TestExitsCancelledBeforeCloses(t *testing.T) {
	tests := []struct {
		name          string
		ticks         []float64
		wantCancelled []string
		wantClosed    int
		wantOpen      bool
	}{
		{"tp1 partial", []float64{101}, []string{"tp-1", "sl-1"}, 1, true},
		{"tp1 then tp2", []float64{101, 103}, []string{"tp-1", "sl-1"}, 2, false},
		{"tp1 then breakeven", []float64{101, 100}, []string{"tp-1", "sl-1"}, 2, false},
		{"venue stop covers the initial stop", []float64{98.5}, nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &venueCloser{}
			m := NewManager(DefaultScaleOut(), v, nil)
			p := m.Register(liveResult(100, 99, 105, 10))
			if len(p.ExitOrderIDs) != 2 || !p.NativeStop {
				t.Fatalf("registered=%+v, expected two resting exits", p)
			}
			for _, px := range tt.ticks {
				m.OnPriceTick(context.Background(), "BTCUSDT", px)
			}
			if len(v.cancelled) != len(tt.wantCancelled) {
				t.Fatalf("cancelled=%v, expected %v", v.cancelled, tt.wantCancelled)
			}
			for i := range tt.wantCancelled {
				if v.cancelled[i] != tt.wantCancelled[i] {
					t.Fatalf("cancelled=%v, expected %v", v.cancelled, tt.wantCancelled)
				}
			}
			if len(v.closed) != tt.wantClosed || m.Has("BTCUSDT") != tt.wantOpen {
				t.Fatalf("closes=%v open=%v, expected %d closes open=%v", v.closed, m.Has("BTCUSDT"), tt.wantClosed, tt.wantOpen)
			}
			if got, ok := m.Get("BTCUSDT"); ok && len(tt.wantCancelled) > 0 && (len(got.ExitOrderIDs) != 0 || got.NativeStop) {
				t.Fatalf("position=%+v, expected no resting exits left", got)
			}
		})
	}
}

func TestFailedCancelBlocksCloseAndRetries(t *testing.T) {
	v := &venueCloser{failID: "sl-1", err: errors.New("venue timeout")}
	m := NewManager(DefaultScaleOut(), v, nil)
	m.Register(liveResult(100, 99, 105, 10))
	ctx := context.Background()

	if ev := m.OnPriceTick(ctx, "BTCUSDT", 101); ev != nil {
		t.Fatalf("closed with a stop still resting: %+v", ev)
	}
	p, _ := m.Get("BTCUSDT")
	if len(v.closed) != 0 || len(p.ExitOrderIDs) != 1 || p.ExitOrderIDs[0] != "sl-1" || !p.NativeStop {
		t.Fatalf("closes=%v position=%+v, expected only sl-1 left resting", v.closed, p)
	}

	if ev := m.OnPriceTick(ctx, "BTCUSDT", 101); ev == nil || ev.Kind != EventTP1Hit {
		t.Fatalf("retry event=%+v, expected TP1_HIT", ev)
	}
	if len(v.cancelled) != 2 || v.cancelled[1] != "sl-1" {
		t.Fatalf("cancelled=%v, expected tp-1 then sl-1", v.cancelled)
	}
}

func TestMergedFillKeepsEveryExit(t *testing.T) {
	v := &venueCloser{}
	m := NewManager(DefaultScaleOut(), v, nil)
	m.Register(liveResult(100, 99, 105, 10))
	second := liveResult(100, 99, 105, 10)
	tp, sl := "tp-2", "sl-2"
	second.TakeProfitOrderID, second.StopOrderID = &tp, &sl
	got := m.Register(second)
	if len(got.ExitOrderIDs) != 4 {
		t.Fatalf("ExitOrderIDs=%v, expected both brackets", got.ExitOrderIDs)
	}

	m.OnPriceTick(context.Background(), "BTCUSDT", 98)
	if len(v.cancelled) != 0 {
		t.Fatalf("cancelled=%v while both venue stops rest", v.cancelled)
	}
	m.OnPriceTick(context.Background(), "BTCUSDT", 101)
	if len(v.cancelled) != 4 || !approx(v.closed[0], 10) {
		t.Fatalf("cancelled=%v closed=%v, expected all four exits withdrawn before a 10 unit partial", v.cancelled, v.closed)
	}
}

func TestRestoreFromStore(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(DefaultScaleOut(), PaperCloser{}, nil, WithStore(store))
	m.Register(paperResult(strategy.SideLong, 100, 99, 102, 10))
	m.OnPriceTick(context.Background(), "BTCUSDT", 101)

	restarted := NewManager(DefaultScaleOut(), PaperCloser{}, nil, WithStore(store))
	n, err := restarted.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Restore=%d,%v, expected 1,nil", n, err)
	}
	p, ok := restarted.Get("BTCUSDT")
	if !ok || !p.Stage1Done || !approx(p.Remaining, 5) {
		t.Fatalf("restored=%+v", p)
	}

	// closing removes the mirror
	restarted.OnPriceTick(context.Background(), "BTCUSDT", 103)
	if left, _ := store.Load(context.Background()); len(left) != 0 {
		t.Fatalf("store still holds %d positions", len(left))
	}
}

func TestRedisStoreWithoutClientFallsBackToMemory(t *testing.T) {
	s := NewRedisStore(nil, zerolog.Nop())
	if s.Available() {
		t.Fatalf("Available()=true without a client")
	}
	ctx := context.Background()
	if err := s.Save(ctx, Position{Symbol: "ETHUSDT", Remaining: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || len(got) != 1 || got[0].Symbol != "ETHUSDT" {
		t.Fatalf("Load=%v,%v", got, err)
	}
}
