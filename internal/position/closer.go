package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"momentum-core/internal/strategy"
	exchange "momentum-core/pkg/exchanges/common"
)

// Closer reduces a position by qty and returns the fill price.
type Closer interface {
	Close(ctx context.Context, p Position, qty, price float64) (float64, error)
}

// ExitCanceler withdraws a venue exit order resting against p. An order the
// venue no longer knows counts as cancelled.
type ExitCanceler interface {
	CancelExit(ctx context.Context, p Position, orderID string) error
}

// PaperCloser fills at the tick price.
type PaperCloser struct{}

// Close implements Closer.
func (PaperCloser) Close(_ context.Context, _ Position, _ float64, price float64) (float64, error) {
	return price, nil
}

// ExchangeCloser closes through the venue. Adapters without ClosePosition
// support get an opposite-side market order instead.
type ExchangeCloser struct {
	Exchange exchange.Exchange
	Timeout  time.Duration
}

// Close implements Closer.
func (c ExchangeCloser) Close(ctx context.Context, p Position, qty, price float64) (float64, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ack, err := c.Exchange.ClosePosition(cctx, p.OrderID, qty, price)
	if errors.Is(err, exchange.ErrNotSupported) {
		mo := exchange.MarketOrder{Symbol: p.Symbol, Qty: qty}
		if p.Side == strategy.SideShort {
			ack, err = c.Exchange.MarketBuy(cctx, mo)
		} else {
			ack, err = c.Exchange.MarketSell(cctx, mo)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("close %s qty %.8f: %w", p.Symbol, qty, err)
	}
	return ack.FillPrice(price), nil
}

// CancelExit implements ExitCanceler. Adapters without cancel support
// return ErrNotSupported.
func (c ExchangeCloser) CancelExit(ctx context.Context, p Position, orderID string) error {
	canceler, ok := c.Exchange.(exchange.OrderCanceler)
	if !ok {
		return fmt.Errorf("cancel %s order %s on %s: %w", p.Symbol, orderID, c.Exchange.Name(), exchange.ErrNotSupported)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := canceler.CancelOrder(cctx, p.Symbol, orderID)
	if errors.Is(err, exchange.ErrUnknownOrder) {
		return nil
	}
	return err
}
