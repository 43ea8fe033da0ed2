package paper

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"momentum-core/pkg/exchanges/common"
)

var fixedNow = time.Date(2024, 5, 1, 12, 3, 0, 0, time.UTC)

func newTestExchange(cfg Config) *Exchange {
	cfg.Now = func() time.Time { return fixedNow }
	return New(cfg)
}

func TestFetchCandlesIsAlignedAndDeterministic(t *testing.T) {
	a := newTestExchange(Config{Seed: 7})
	b := newTestExchange(Config{Seed: 7})
	ca, err := a.FetchCandles(context.Background(), "BTCUSDT", "5m", 60)
	if err != nil {
		t.Fatalf("FetchCandles err=%v", err)
	}
	cb, _ := b.FetchCandles(context.Background(), "BTCUSDT", "5m", 60)

	if len(ca) != 60 {
		t.Fatalf("len=%d, expected 60", len(ca))
	}
	if last := ca[len(ca)-1].Timestamp; !last.Equal(fixedNow.Truncate(5 * time.Minute)) {
		t.Fatalf("last ts=%v, expected %v", last, fixedNow.Truncate(5*time.Minute))
	}
	for i := range ca {
		if ca[i] != cb[i] {
			t.Fatalf("bar %d differs between equal seeds", i)
		}
		if i > 0 && ca[i].Timestamp.Sub(ca[i-1].Timestamp) != 5*time.Minute {
			t.Fatalf("gap at bar %d", i)
		}
		if ca[i].Low > math.Min(ca[i].Open, ca[i].Close) || ca[i].High < math.Max(ca[i].Open, ca[i].Close) {
			t.Fatalf("bar %d inconsistent: %+v", i, ca[i])
		}
	}
}

func TestStepAddsBurstBars(t *testing.T) {
	ex := newTestExchange(Config{Seed: 1, BurstEvery: 2})
	if _, err := ex.FetchCandles(context.Background(), "ETHUSDT", "1m", 10); err != nil {
		t.Fatal(err)
	}
	before, _ := ex.LastPrice("ETHUSDT")
	ex.Step()
	ex.Step()
	candles, _ := ex.FetchCandles(context.Background(), "ETHUSDT", "1m", 12)
	if len(candles) != 12 {
		t.Fatalf("len=%d, expected 12", len(candles))
	}
	burst := false
	for _, c := range candles[10:] {
		if c.Volume >= 40 && c.Close > c.Open {
			burst = true
		}
	}
	if !burst {
		t.Fatalf("expected a burst bar after stepping from %v: %+v", before, candles[10:])
	}
}

func TestMarketFillsMoveBalances(t *testing.T) {
	ex := newTestExchange(Config{Seed: 3, StartPrice: 100, InitialBalance: 1000, FeeRate: 0.001, SlippageBps: 10})
	ctx := context.Background()
	if _, err := ex.FetchCandles(ctx, "BTCUSDT", "5m", 2); err != nil {
		t.Fatal(err)
	}
	last, _ := ex.LastPrice("BTCUSDT")

	ack, err := ex.MarketBuy(ctx, common.MarketOrder{Symbol: "BTCUSDT", Qty: 2})
	if err != nil {
		t.Fatalf("MarketBuy err=%v", err)
	}
	if want := last * 1.001; math.Abs(ack.AvgPrice-want) > 1e-9 {
		t.Fatalf("AvgPrice=%v, expected %v", ack.AvgPrice, want)
	}
	pos, _ := ex.OpenPositions(ctx, "BTCUSDT")
	if len(pos) != 1 || pos[0].Qty != 2 {
		t.Fatalf("positions=%+v", pos)
	}

	if _, err := ex.MarketSell(ctx, common.MarketOrder{Symbol: "BTCUSDT", Qty: 3}); !errors.Is(err, common.ErrRejected) {
		t.Fatalf("oversell err=%v, expected ErrRejected", err)
	}
	if _, err := ex.MarketBuy(ctx, common.MarketOrder{Symbol: "BTCUSDT", Qty: 100}); !errors.Is(err, common.ErrRejected) {
		t.Fatalf("overbuy err=%v, expected ErrRejected", err)
	}
	if _, err := ex.ClosePosition(ctx, "x", 0, 0); !errors.Is(err, common.ErrNotSupported) {
		t.Fatalf("ClosePosition err=%v, expected ErrNotSupported", err)
	}
}

func TestPlaceOrderRestsConditionalOrders(t *testing.T) {
	ex := newTestExchange(Config{Seed: 3})
	ack, err := ex.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeMarket, Qty: 1,
		Params: map[string]string{"stopPrice": "95"},
	})
	if err != nil || ack.Status != common.StatusNew {
		t.Fatalf("ack=%+v err=%v", ack, err)
	}
	if len(ex.Resting()) != 1 {
		t.Fatalf("resting=%d, expected 1", len(ex.Resting()))
	}
	if _, err := ex.PlaceOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Type: common.OrderTypeLimit, Qty: 1}); !errors.Is(err, common.ErrRejected) {
		t.Fatalf("limit without price err=%v, expected ErrRejected", err)
	}
}

func TestCancelOrderDropsResting(t *testing.T) {
	ex := newTestExchange(Config{Seed: 3})
	ctx := context.Background()
	ack, err := ex.PlaceOrder(ctx, common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeLimit, Qty: 1, Price: 110,
	})
	if err != nil {
		t.Fatalf("PlaceOrder err=%v", err)
	}

	if err := ex.CancelOrder(ctx, "ETHUSDT", ack.ExchangeOrderID); !errors.Is(err, common.ErrUnknownOrder) {
		t.Fatalf("wrong symbol err=%v, expected ErrUnknownOrder", err)
	}
	if err := ex.CancelOrder(ctx, "BTCUSDT", ack.ExchangeOrderID); err != nil {
		t.Fatalf("CancelOrder err=%v", err)
	}
	if len(ex.Resting()) != 0 {
		t.Fatalf("resting=%v, expected none", ex.Resting())
	}
	if err := ex.CancelOrder(ctx, "BTCUSDT", ack.ExchangeOrderID); !errors.Is(err, common.ErrUnknownOrder) {
		t.Fatalf("second cancel err=%v, expected ErrUnknownOrder", err)
	}
}

func TestOrderFlowFollowsLastBar(t *testing.T) {
	ex := newTestExchange(Config{Seed: 5, BurstEvery: 1})
	ctx := context.Background()
	if _, err := ex.FetchCandles(ctx, "SOLUSDT", "1m", 5); err != nil {
		t.Fatal(err)
	}
	book, err := ex.OrderBook(ctx, "SOLUSDT", 8)
	if err != nil || len(book.Bids) != 8 || book.Bids[0].Qty <= book.Asks[0].Qty {
		t.Fatalf("book=%+v err=%v, expected bid-heavy book after burst", book, err)
	}
	trades, err := ex.RecentTrades(ctx, "SOLUSDT", 60)
	if err != nil || len(trades) != 60 {
		t.Fatalf("trades=%d err=%v", len(trades), err)
	}
	if _, err := ex.OrderBook(ctx, "UNKNOWN", 8); err == nil {
		t.Fatalf("expected error for unknown symbol")
	}
}

func TestParseTimeframe(t *testing.T) {
	if _, err := newTestExchange(Config{}).FetchCandles(context.Background(), "BTCUSDT", "weekly", 5); !errors.Is(err, common.ErrNotSupported) {
		t.Fatalf("err=%v, expected ErrNotSupported", err)
	}
}
