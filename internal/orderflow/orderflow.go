// Package orderflow derives buying-pressure ratios from order book depth and
// the public trade tape.
package orderflow

import (
	"context"
	"fmt"
	"math"

	"momentum-core/pkg/exchanges/common"
)

// Ratios summarizes order flow for one symbol.
type Ratios struct {
	BidNotional  float64 `json:"bid_notional"`
	AskNotional  float64 `json:"ask_notional"`
	BidAsk       float64 `json:"bid_ask_ratio"`
	BuyNotional  float64 `json:"buy_notional"`
	SellNotional float64 `json:"sell_notional"`
	BuySell      float64 `json:"buy_sell_ratio"`
}

// Service pulls depth and tape from a venue that exposes them.
type Service struct {
	source     common.OrderFlowSource
	bookDepth  int
	tapeTrades int
}

// NewService uses the top bookDepth levels and the last tapeTrades prints.
func NewService(source common.OrderFlowSource, bookDepth, tapeTrades int) *Service {
	if bookDepth <= 0 {
		bookDepth = 8
	}
	if tapeTrades <= 0 {
		tapeTrades = 60
	}
	return &Service{source: source, bookDepth: bookDepth, tapeTrades: tapeTrades}
}

// Ratios fetches a fresh snapshot for symbol.
func (s *Service) Ratios(ctx context.Context, symbol string) (*Ratios, error) {
	book, err := s.source.OrderBook(ctx, symbol, max(20, s.bookDepth*2))
	if err != nil {
		return nil, fmt.Errorf("order book %s: %w", symbol, err)
	}
	trades, err := s.source.RecentTrades(ctx, symbol, s.tapeTrades)
	if err != nil {
		return nil, fmt.Errorf("recent trades %s: %w", symbol, err)
	}
	r := Compute(book, trades, s.bookDepth)
	return &r, nil
}

// Compute builds Ratios from a depth snapshot and a tape. A zero denominator
// yields +Inf when the numerator is positive and 1 when both sides are empty.
func Compute(book common.OrderBook, trades []common.TapeTrade, depth int) Ratios {
	var r Ratios
	r.BidNotional = notional(book.Bids, depth)
	r.AskNotional = notional(book.Asks, depth)
	r.BidAsk = ratio(r.BidNotional, r.AskNotional)

	for _, t := range trades {
		n := t.Price * t.Qty
		switch t.Side {
		case common.SideBuy:
			r.BuyNotional += n
		case common.SideSell:
			r.SellNotional += n
		}
	}
	r.BuySell = ratio(r.BuyNotional, r.SellNotional)
	return r
}

func notional(levels []common.BookLevel, depth int) float64 {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	sum := 0.0
	for _, l := range levels {
		sum += l.Price * l.Qty
	}
	return sum
}

func ratio(num, den float64) float64 {
	if den > 0 {
		return num / den
	}
	if num > 0 {
		return math.Inf(1)
	}
	return 1
}
