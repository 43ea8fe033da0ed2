package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"momentum-core/internal/strategy"
)

// Mode is the execution mode.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// ParseMode accepts "paper" or "live" in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePaper, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

var (
	// ErrLiveNotArmed is returned for live execution before Arm. It is a
	// configuration error: the engine never downgrades to paper.
	ErrLiveNotArmed = errors.New("live trading is not armed")
	// ErrEntryFailed wraps a rejected or failed entry order.
	ErrEntryFailed = errors.New("entry order failed")
)

// Warning annotations attached to live results.
const (
	WarnStopUnsupported = "stop_order_not_supported; relying_on_monitor_close"
	warnTPFailed        = "tp_failed: "
	warnSLFailed        = "sl_failed: "
	warnTPSkipped       = "tp_skipped: limit orders not supported"
)

// Result is the outcome of executing a candidate. Optional fields are set
// at construction; only Warnings and Native are appended to afterwards.
type Result struct {
	Candidate   *strategy.Signal `json:"candidate"`
	OrderID     string           `json:"order_id"`
	Mode        Mode             `json:"mode"`
	FilledPrice float64          `json:"filled_price"`
	Status      string           `json:"status"`

	Stop              *float64 `json:"stop,omitempty"`
	Target            *float64 `json:"target,omitempty"`
	Qty               *float64 `json:"qty,omitempty"`
	TakeProfitOrderID *string  `json:"tp_order_id,omitempty"`
	StopOrderID       *string  `json:"stop_order_id,omitempty"`

	Warnings  []string       `json:"warnings,omitempty"`
	Native    map[string]any `json:"native,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AddWarning appends a warning annotation.
func (r *Result) AddWarning(w string) {
	r.Warnings = append(r.Warnings, w)
}

// Annotate records venue metadata.
func (r *Result) Annotate(key string, v any) {
	if r.Native == nil {
		r.Native = make(map[string]any)
	}
	r.Native[key] = v
}

// FilledQty is Qty when set, else the candidate quantity.
func (r *Result) FilledQty() float64 {
	if r.Qty != nil {
		return *r.Qty
	}
	if r.Candidate != nil {
		return r.Candidate.Qty
	}
	return 0
}

// StopPrice is Stop when set, else the candidate stop.
func (r *Result) StopPrice() float64 {
	if r.Stop != nil {
		return *r.Stop
	}
	if r.Candidate != nil {
		return r.Candidate.Stop
	}
	return 0
}

// TargetPrice is Target when set, else the candidate target.
func (r *Result) TargetPrice() float64 {
	if r.Target != nil {
		return *r.Target
	}
	if r.Candidate != nil {
		return r.Candidate.Target
	}
	return 0
}

// HasNativeStop reports whether a protective order rests on the venue.
func (r *Result) HasNativeStop() bool {
	if r.StopOrderID != nil {
		return true
	}
	b, _ := r.Native["bracket"].(bool)
	return b
}

// ExitOrderIDs lists the take-profit and stop orders left resting on the
// venue, in that order.
func (r *Result) ExitOrderIDs() []string {
	var ids []string
	for _, id := range []*string{r.TakeProfitOrderID, r.StopOrderID} {
		if id != nil && *id != "" {
			ids = append(ids, *id)
		}
	}
	return ids
}

func ptr[T any](v T) *T { return &v }
