package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/internal/events"
	"momentum-core/internal/order"
	"momentum-core/internal/position"
)

// Type names the kind of operator message.
type Type string

const (
	TypeTradeOpen   Type = "trade_open"
	TypeTradeScaled Type = "trade_scaled"
	TypeTradeClose  Type = "trade_close"
	TypeRejected    Type = "risk_rejected"
	TypeError       Type = "error"
)

// Notification is a short operator message.
type Notification struct {
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Symbol    string    `json:"symbol,omitempty"`
	Price     float64   `json:"price,omitempty"`
	PnL       float64   `json:"pnl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers notifications to one channel.
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
	Name() string
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Send(ctx context.Context, n *Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nt.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct {
	Log zerolog.Logger
}

func (l LogNotifier) Name() string { return "log" }

func (l LogNotifier) Send(_ context.Context, n *Notification) error {
	ev := l.Log.Info()
	if n.Type == TypeError {
		ev = l.Log.Warn()
	}
	ev.Str("type", string(n.Type)).
		Str("symbol", n.Symbol).
		Str("title", n.Title).
		Msg(n.Message)
	return nil
}

// FromOrder describes a placed entry.
func FromOrder(r *order.Result) *Notification {
	sig := r.Candidate
	msg := fmt.Sprintf("%s %s qty %.6f @ %.4f | SL %.4f | TP %.4f | %s",
		sig.Side, sig.Symbol, r.FilledQty(), r.FilledPrice, r.StopPrice(), r.TargetPrice(), r.Mode)
	if len(r.Warnings) > 0 {
		msg += "\nwarnings: " + strings.Join(r.Warnings, "; ")
	}
	return &Notification{
		Type:      TypeTradeOpen,
		Title:     "Entry " + sig.Symbol,
		Message:   msg,
		Symbol:    sig.Symbol,
		Price:     r.FilledPrice,
		Timestamp: r.CreatedAt,
	}
}

// FromScale describes a partial exit.
func FromScale(e position.Event) *Notification {
	return &Notification{
		Type:      TypeTradeScaled,
		Title:     fmt.Sprintf("%s %s", e.Kind, e.Symbol),
		Message:   fmt.Sprintf("closed %.6f @ %.4f pnl %.4f, remaining %.6f, stop -> %.4f", e.Qty, e.Price, e.PnL, e.Remaining, e.NewStop),
		Symbol:    e.Symbol,
		Price:     e.Price,
		PnL:       e.PnL,
		Timestamp: time.Now(),
	}
}

// FromTrade describes a fully closed trade.
func FromTrade(t position.Trade) *Notification {
	pct := 0.0
	if t.Entry > 0 {
		pct = (t.Exit - t.Entry) / t.Entry * 100 * t.Side.Sign()
	}
	return &Notification{
		Type:      TypeTradeClose,
		Title:     fmt.Sprintf("Closed %s (%s)", t.Symbol, t.Reason),
		Message:   fmt.Sprintf("%.4f -> %.4f qty %.6f pnl %.4f (%.2f%%)", t.Entry, t.Exit, t.Qty, t.PnL, pct),
		Symbol:    t.Symbol,
		Price:     t.Exit,
		PnL:       t.PnL,
		Timestamp: t.ClosedAt,
	}
}

// FromRejection describes a risk gate denial.
func FromRejection(r events.RiskRejected) *Notification {
	return &Notification{
		Type:      TypeRejected,
		Title:     "Rejected " + r.Symbol,
		Message:   r.Reason,
		Symbol:    r.Symbol,
		Timestamp: time.Now(),
	}
}

// FromFailure describes an entry that could not be placed.
func FromFailure(f events.ExecutionFailed) *Notification {
	title := "Execution failed " + f.Symbol
	if f.Fatal {
		title = "FATAL " + title
	}
	return &Notification{
		Type:      TypeError,
		Title:     title,
		Message:   f.Error,
		Symbol:    f.Symbol,
		Timestamp: time.Now(),
	}
}

// Convert maps a hub payload to a notification; unknown payloads yield nil.
func Convert(payload any) *Notification {
	switch p := payload.(type) {
	case *order.Result:
		if p == nil || p.Candidate == nil {
			return nil
		}
		return FromOrder(p)
	case position.Event:
		return FromScale(p)
	case position.Trade:
		return FromTrade(p)
	case events.RiskRejected:
		return FromRejection(p)
	case events.ExecutionFailed:
		return FromFailure(p)
	}
	return nil
}

// Topics lists the hub topics forwarded to operators.
var Topics = []events.Event{
	events.EventOrderPlaced,
	events.EventPositionScaled,
	events.EventTradeClosed,
	events.EventRiskRejected,
	events.EventExecutionFailed,
}

// Forwarder relays hub events to a notifier off the publishing goroutine,
// so a slow channel never stalls the scan loop or an order worker.
type Forwarder struct {
	notifier Notifier
	log      zerolog.Logger
	timeout  time.Duration
	in       []<-chan any
	cancel   []func()
}

// NewForwarder subscribes to Topics on bus. Call Run to start delivery.
func NewForwarder(bus *events.Bus, n Notifier, log zerolog.Logger) *Forwarder {
	f := &Forwarder{notifier: n, log: log, timeout: 10 * time.Second}
	for _, topic := range Topics {
		ch, cancel := bus.Subscribe(topic, 64)
		f.in = append(f.in, ch)
		f.cancel = append(f.cancel, cancel)
	}
	return f
}

// Run delivers notifications until ctx is done, then unsubscribes.
func (f *Forwarder) Run(ctx context.Context) {
	merged := make(chan any, 64)
	for _, ch := range f.in {
		go func(ch <-chan any) {
			for {
				select {
				case <-ctx.Done():
					return
				case p, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- p:
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
	}

	defer func() {
		for _, c := range f.cancel {
			c()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-merged:
			f.deliver(ctx, p)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, payload any) {
	n := Convert(payload)
	if n == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.notifier.Send(sctx, n); err != nil {
		f.log.Warn().Err(err).Str("type", string(n.Type)).Msg("notification failed")
	}
}
