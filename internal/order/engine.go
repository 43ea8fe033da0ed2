package order

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"momentum-core/internal/strategy"
	exchange "momentum-core/pkg/exchanges/common"
)

const defaultExchangeTimeout = 10 * time.Second

// Engine turns candidates into filled entries. In live mode it also places
// the take-profit and protective stop.
type Engine struct {
	mode    Mode
	ex      exchange.Exchange
	timeout time.Duration
	log     zerolog.Logger
	armed   atomic.Bool
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithTimeout bounds every exchange call.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) EngineOption { return func(e *Engine) { e.log = l } }

// NewEngine builds an engine. ex may be nil in paper mode.
func NewEngine(mode Mode, ex exchange.Exchange, opts ...EngineOption) *Engine {
	e := &Engine{mode: mode, ex: ex, timeout: defaultExchangeTimeout, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the execution mode.
func (e *Engine) Mode() Mode { return e.mode }

// Arm permits live orders.
func (e *Engine) Arm() {
	e.armed.Store(true)
	e.log.Warn().Str("mode", string(e.mode)).Msg("live trading armed")
}

// Disarm blocks live orders again.
func (e *Engine) Disarm() {
	e.armed.Store(false)
	e.log.Info().Msg("live trading disarmed")
}

// Armed reports whether live orders are permitted.
func (e *Engine) Armed() bool { return e.armed.Load() }

// Execute places sig and returns the result.
func (e *Engine) Execute(ctx context.Context, sig *strategy.Signal) (*Result, error) {
	if sig == nil {
		return nil, fmt.Errorf("execute: nil candidate")
	}
	if e.mode != ModeLive {
		return e.paper(sig), nil
	}
	if !e.Armed() {
		return nil, ErrLiveNotArmed
	}
	if e.ex == nil {
		return nil, fmt.Errorf("execute: live mode without an exchange")
	}
	return e.live(ctx, sig)
}

func (e *Engine) paper(sig *strategy.Signal) *Result {
	return &Result{
		Candidate:   sig,
		OrderID:     fmt.Sprintf("PAPER-%s-%d", sig.Symbol, sig.CreatedAt.Unix()),
		Mode:        ModePaper,
		FilledPrice: sig.Entry,
		Status:      "filled",
		Stop:        ptr(sig.Stop),
		Target:      ptr(sig.Target),
		Qty:         ptr(sig.Qty),
		CreatedAt:   time.Now().UTC(),
	}
}

func (e *Engine) live(ctx context.Context, sig *strategy.Signal) (*Result, error) {
	caps := e.ex.Capabilities()
	if !caps.MarketOrders {
		return nil, fmt.Errorf("%w: %s does not accept market orders: %w", ErrEntryFailed, e.ex.Name(), exchange.ErrNotSupported)
	}

	mo := exchange.MarketOrder{
		Symbol:   sig.Symbol,
		Qty:      sig.Qty,
		ClientID: newClientID(),
	}
	if caps.NativeBracket {
		mo.StopLoss = ptr(sig.Stop)
		mo.TakeProfit = ptr(sig.Target)
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	var (
		ack exchange.OrderAck
		err error
	)
	if sig.Side.OrderSide() == exchange.SideBuy {
		ack, err = e.ex.MarketBuy(cctx, mo)
	} else {
		ack, err = e.ex.MarketSell(cctx, mo)
	}
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrEntryFailed, sig.Symbol, e.ex.Name(), err)
	}

	status := strings.ToLower(string(ack.Status))
	if status == "" || ack.Status == exchange.StatusUnknown {
		status = "submitted"
	}
	e.log.Info().
		Str("symbol", sig.Symbol).
		Str("order_id", ack.ExchangeOrderID).
		Float64("qty", sig.Qty).
		Float64("fill", ack.FillPrice(sig.Entry)).
		Msg("live entry placed")

	var (
		tpID, slID *string
		warnings   []string
		native     = map[string]any{"exchange": e.ex.Name(), "client_id": mo.ClientID}
	)
	if caps.NativeBracket {
		native["bracket"] = true
	} else {
		tpID, slID, warnings = e.placeExits(ctx, sig, caps)
	}

	return &Result{
		Candidate:         sig,
		OrderID:           ack.ExchangeOrderID,
		Mode:              ModeLive,
		FilledPrice:       ack.FillPrice(sig.Entry),
		Status:            status,
		Stop:              ptr(sig.Stop),
		Target:            ptr(sig.Target),
		Qty:               ptr(sig.Qty),
		TakeProfitOrderID: tpID,
		StopOrderID:       slID,
		Warnings:          warnings,
		Native:            native,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// stopConventions are the trigger parameter shapes tried for a stop-market
// exit, in order. Venues disagree on the field names.
func stopConventions(stop string) []map[string]string {
	return []map[string]string{
		{"stop": "loss", "stopPrice": stop},
		{"stopPrice": stop},
		{"stop": "loss", "triggerPrice": stop},
	}
}

func (e *Engine) placeExits(ctx context.Context, sig *strategy.Signal, caps exchange.Capabilities) (tpID, slID *string, warnings []string) {
	placer, ok := e.ex.(exchange.OrderPlacer)
	if !ok {
		return nil, nil, []string{warnTPSkipped, WarnStopUnsupported}
	}
	exitSide := sig.Side.OrderSide().Opposite()

	if caps.LimitOrders {
		ack, err := e.place(ctx, placer, exchange.OrderRequest{
			Symbol:      sig.Symbol,
			Side:        exitSide,
			Type:        exchange.OrderTypeLimit,
			Qty:         sig.Qty,
			Price:       sig.Target,
			TimeInForce: exchange.TIFGTC,
			ClientID:    newClientID(),
		})
		if err != nil {
			warnings = append(warnings, warnTPFailed+err.Error())
		} else {
			tpID = ptr(ack.ExchangeOrderID)
		}
	} else {
		warnings = append(warnings, warnTPSkipped)
	}

	stop := decimal.NewFromFloat(sig.Stop).String()
	if caps.StopOrders {
		for _, params := range stopConventions(stop) {
			ack, err := e.place(ctx, placer, exchange.OrderRequest{
				Symbol:   sig.Symbol,
				Side:     exitSide,
				Type:     exchange.OrderTypeMarket,
				Qty:      sig.Qty,
				ClientID: newClientID(),
				Params:   params,
			})
			if err == nil {
				return tpID, ptr(ack.ExchangeOrderID), warnings
			}
			e.log.Debug().Err(err).Str("symbol", sig.Symbol).Interface("params", params).Msg("stop convention rejected")
		}
	}

	if caps.LimitOrders {
		ack, err := e.place(ctx, placer, exchange.OrderRequest{
			Symbol:      sig.Symbol,
			Side:        exitSide,
			Type:        exchange.OrderTypeLimit,
			Qty:         sig.Qty,
			Price:       sig.Stop,
			TimeInForce: exchange.TIFGTC,
			ClientID:    newClientID(),
			Params:      map[string]string{"stop": "loss", "stopPrice": stop},
		})
		if err == nil {
			return tpID, ptr(ack.ExchangeOrderID), warnings
		}
		warnings = append(warnings, warnSLFailed+err.Error())
	}

	e.log.Warn().Str("symbol", sig.Symbol).Msg("no stop order accepted; the position monitor will close at the stop")
	return tpID, nil, append(warnings, WarnStopUnsupported)
}

func (e *Engine) place(ctx context.Context, p exchange.OrderPlacer, req exchange.OrderRequest) (exchange.OrderAck, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return p.PlaceOrder(cctx, req)
}

func newClientID() string {
	return "mc-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
