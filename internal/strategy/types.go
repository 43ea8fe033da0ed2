package strategy

import (
	"errors"
	"fmt"
	"time"

	"momentum-core/internal/indicators"
	"momentum-core/pkg/exchanges/common"
)

// ErrInvalidSignal is returned when a candidate is missing required fields or
// violates stop < entry < target.
var ErrInvalidSignal = errors.New("invalid signal")

// Side of a trade candidate.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// OrderSide maps the candidate side to the entry order side.
func (s Side) OrderSide() common.Side {
	if s == SideShort {
		return common.SideSell
	}
	return common.SideBuy
}

// Signal is a fully specified trade candidate. Build it with NewSignal.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Timeframe string    `json:"timeframe"`
	Side      Side      `json:"side"`
	Entry     float64   `json:"entry"`
	Stop      float64   `json:"stop"`
	Target    float64   `json:"target"`
	Qty       float64   `json:"qty"`
	RelVolume float64   `json:"rel_volume"`
	GapPct    float64   `json:"gap_pct"`
	Tier      string    `json:"tier,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	SentimentScore *float64 `json:"sentiment_score,omitempty"`
	SentimentLabel *string  `json:"sentiment_label,omitempty"`
}

// NewSignal validates s and returns a copy. Missing identity fields, a
// non-positive quantity or a broken price ladder are rejected.
func NewSignal(s Signal) (*Signal, error) {
	switch {
	case s.Symbol == "":
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidSignal)
	case s.Exchange == "":
		return nil, fmt.Errorf("%w: exchange required", ErrInvalidSignal)
	case s.Timeframe == "":
		return nil, fmt.Errorf("%w: timeframe required", ErrInvalidSignal)
	case s.Side != SideLong && s.Side != SideShort:
		return nil, fmt.Errorf("%w: side %q", ErrInvalidSignal, s.Side)
	case !(s.Qty > 0):
		return nil, fmt.Errorf("%w: qty must be positive", ErrInvalidSignal)
	}
	if s.Side == SideLong && !(s.Stop < s.Entry && s.Entry < s.Target) {
		return nil, fmt.Errorf("%w: long requires stop < entry < target (%.8f/%.8f/%.8f)", ErrInvalidSignal, s.Stop, s.Entry, s.Target)
	}
	if s.Side == SideShort && !(s.Target < s.Entry && s.Entry < s.Stop) {
		return nil, fmt.Errorf("%w: short requires target < entry < stop (%.8f/%.8f/%.8f)", ErrInvalidSignal, s.Target, s.Entry, s.Stop)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	out := s
	return &out, nil
}

// RiskPerUnit is |entry - stop|.
func (s *Signal) RiskPerUnit() float64 {
	d := s.Entry - s.Stop
	if d < 0 {
		return -d
	}
	return d
}

// RMultiple is the reward-to-risk ratio of the candidate.
func (s *Signal) RMultiple() float64 {
	rpu := s.RiskPerUnit()
	if rpu == 0 {
		return 0
	}
	d := s.Target - s.Entry
	if d < 0 {
		d = -d
	}
	return d / rpu
}

// SignalCreated is the payload of events.EventSignalCreated.
type SignalCreated struct {
	Candidate *Signal             `json:"candidate"`
	Candles   []common.Candle     `json:"-"`
	Features  indicators.Snapshot `json:"features"`
}
