package position

import (
	"context"
	"errors"
	"testing"

	"momentum-core/internal/strategy"
	exchange "momentum-core/pkg/exchanges/common"
	"momentum-core/pkg/exchanges/paper"
)

// plainVenue hides every optional adapter interface.
type plainVenue struct{ exchange.Exchange }

func TestExchangeCloserCancelsThenSells(t *testing.T) {
	ex := paper.New(paper.Config{Seed: 11})
	ctx := context.Background()
	if _, err := ex.FetchCandles(ctx, "BTCUSDT", "1m", 10); err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}
	if _, err := ex.MarketBuy(ctx, exchange.MarketOrder{Symbol: "BTCUSDT", Qty: 2}); err != nil {
		t.Fatalf("MarketBuy: %v", err)
	}
	ack, err := ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideSell, Type: exchange.OrderTypeLimit, Qty: 2, Price: 1000,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	c := ExchangeCloser{Exchange: ex}
	p := Position{Symbol: "BTCUSDT", Side: strategy.SideLong, ExitOrderIDs: []string{ack.ExchangeOrderID}}
	if err := c.CancelExit(ctx, p, ack.ExchangeOrderID); err != nil {
		t.Fatalf("CancelExit: %v", err)
	}
	if len(ex.Resting()) != 0 {
		t.Fatalf("resting=%v, expected none", ex.Resting())
	}
	if err := c.CancelExit(ctx, p, ack.ExchangeOrderID); err != nil {
		t.Fatalf("second CancelExit err=%v, expected an already gone order to count as cancelled", err)
	}

	px, _ := ex.LastPrice("BTCUSDT")
	fill, err := c.Close(ctx, p, 1, px)
	if err != nil || fill <= 0 {
		t.Fatalf("Close=%v,%v", fill, err)
	}
	if left, _ := ex.Balance(ctx, "BTC"); !approx(left, 1) {
		t.Fatalf("BTC=%v, expected 1 left after selling 1", left)
	}

	bare := ExchangeCloser{Exchange: plainVenue{ex}}
	if err := bare.CancelExit(ctx, p, "SIM-9"); !errors.Is(err, exchange.ErrNotSupported) {
		t.Fatalf("err=%v, expected ErrNotSupported", err)
	}
}
