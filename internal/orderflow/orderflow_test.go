package orderflow

import (
	"context"
	"errors"
	"math"
	"testing"

	"momentum-core/pkg/exchanges/common"
)

type fakeSource struct {
	book   common.OrderBook
	trades []common.TapeTrade
	err    error
}

func (f fakeSource) OrderBook(context.Context, string, int) (common.OrderBook, error) {
	return f.book, f.err
}

func (f fakeSource) RecentTrades(context.Context, string, int) ([]common.TapeTrade, error) {
	return f.trades, nil
}

func TestComputeUsesTopLevelsOnly(t *testing.T) {
	book := common.OrderBook{
		Bids: []common.BookLevel{{Price: 10, Qty: 2}, {Price: 9, Qty: 100}},
		Asks: []common.BookLevel{{Price: 11, Qty: 1}, {Price: 12, Qty: 100}},
	}
	r := Compute(book, nil, 1)
	if r.BidNotional != 20 || r.AskNotional != 11 {
		t.Fatalf("notional bid=%v ask=%v, expected 20/11", r.BidNotional, r.AskNotional)
	}
	if math.Abs(r.BidAsk-20.0/11.0) > 1e-9 {
		t.Fatalf("BidAsk=%v", r.BidAsk)
	}
	if r.BuySell != 1 {
		t.Fatalf("empty tape BuySell=%v, expected 1", r.BuySell)
	}
}

func TestComputeTapeAndInfiniteRatio(t *testing.T) {
	trades := []common.TapeTrade{
		{Price: 10, Qty: 3, Side: common.SideBuy},
		{Price: 10, Qty: 1, Side: common.SideBuy},
	}
	r := Compute(common.OrderBook{}, trades, 8)
	if r.BuyNotional != 40 || r.SellNotional != 0 {
		t.Fatalf("buy=%v sell=%v", r.BuyNotional, r.SellNotional)
	}
	if !math.IsInf(r.BuySell, 1) {
		t.Fatalf("BuySell=%v, expected +Inf", r.BuySell)
	}
}

func TestServicePropagatesErrors(t *testing.T) {
	svc := NewService(fakeSource{err: common.ErrTransient}, 0, 0)
	if _, err := svc.Ratios(context.Background(), "BTCUSDT"); !errors.Is(err, common.ErrTransient) {
		t.Fatalf("err=%v, expected ErrTransient", err)
	}
}
