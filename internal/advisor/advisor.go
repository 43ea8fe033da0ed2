// Package advisor reviews trade candidates before execution. Reviews are
// advisory unless the advisor runs in gatekeep mode.
package advisor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"momentum-core/internal/indicators"
	"momentum-core/internal/strategy"
)

// Mode selects how a review affects the candidate.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeAnnotate Mode = "annotate"
	ModeGatekeep Mode = "gatekeep"
)

// ParseMode maps a config string to a Mode; unknown values are an error.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModeAnnotate, ModeGatekeep:
		return m, nil
	case "":
		return ModeAnnotate, nil
	default:
		return "", fmt.Errorf("unknown advisor mode %q", s)
	}
}

// Context is what the scanner knows about the cycle a candidate came from.
type Context struct {
	ExecutionMode string
	Looseness     float64
	OpenPositions int
}

// Verdict is the outcome of one review.
type Verdict struct {
	Approved   bool     `json:"approved"`
	Comment    string   `json:"comment"`
	Flags      []string `json:"flags,omitempty"`
	Confidence int      `json:"confidence"` // 0-100
}

// Advisor reviews a candidate. Implementations must be safe for use from
// the scan goroutine only; they are not shared with workers.
type Advisor interface {
	Review(ctx context.Context, sig *strategy.Signal, features indicators.Snapshot, rc Context) (Verdict, error)
}

// Thresholds below which RulesAdvisor raises a flag.
type Thresholds struct {
	MinRMultiple float64 `yaml:"min_r_multiple" default:"1.3"`
	MinRelVolume float64 `yaml:"min_rel_volume" default:"2.0"`
	MinGapPct    float64 `yaml:"min_gap_pct" default:"0.3"`
}

// DefaultThresholds returns the stock flag thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{MinRMultiple: 1.3, MinRelVolume: 2.0, MinGapPct: 0.3}
}

// RulesAdvisor is a deterministic advisor. In annotate mode it always
// approves; in gatekeep mode any flag rejects.
type RulesAdvisor struct {
	mode Mode
	th   Thresholds
}

// NewRulesAdvisor builds a rules advisor.
func NewRulesAdvisor(mode Mode, th Thresholds) *RulesAdvisor {
	return &RulesAdvisor{mode: mode, th: th}
}

// Mode returns the configured mode.
func (a *RulesAdvisor) Mode() Mode { return a.mode }

// Review implements Advisor.
func (a *RulesAdvisor) Review(_ context.Context, sig *strategy.Signal, features indicators.Snapshot, _ Context) (Verdict, error) {
	if sig == nil {
		return Verdict{}, fmt.Errorf("review: nil candidate")
	}
	if a.mode == ModeOff {
		return Verdict{Approved: true}, nil
	}

	var flags []string
	if r := sig.RMultiple(); r < a.th.MinRMultiple {
		flags = append(flags, fmt.Sprintf("Low R/R (%.2f).", r))
	}
	if sig.RelVolume < a.th.MinRelVolume {
		flags = append(flags, fmt.Sprintf("RelVol %.2f is low for momentum.", sig.RelVolume))
	}
	if sig.GapPct < a.th.MinGapPct {
		flags = append(flags, fmt.Sprintf("Gap %.2f%% is small.", sig.GapPct))
	}

	v := Verdict{
		Approved:   !(a.mode == ModeGatekeep && len(flags) > 0),
		Flags:      flags,
		Confidence: Confidence(sig, features),
	}
	if len(flags) == 0 {
		v.Comment = fmt.Sprintf("Confidence: %d/100. Setup looks reasonable.", v.Confidence)
	} else {
		v.Comment = fmt.Sprintf("Confidence: %d/100. Flags: %s", v.Confidence, strings.Join(flags, " "))
	}
	return v, nil
}

// Confidence scores a candidate 0-100 from relative volume, gap, trend stack
// and breakout distance.
func Confidence(sig *strategy.Signal, f indicators.Snapshot) int {
	score := 0.0
	score += math.Min(1, sig.RelVolume/3) * 0.35
	score += math.Min(1, math.Max(0, sig.GapPct)) * 0.15
	if f.Close > f.EMAFast && f.EMAFast > f.EMAMedium && f.EMAMedium > f.EMASlow {
		score += 0.30
	} else {
		score += 0.15
	}
	if f.Close > f.BreakoutLevel {
		score += 0.20
	} else {
		score += 0.08
	}
	return int(math.Round(score * 100))
}

// Review runs adv and applies the error policy: a failing advisor is logged
// and treated as approval so an outage never blocks trading.
func Review(ctx context.Context, log zerolog.Logger, adv Advisor, sig *strategy.Signal, features indicators.Snapshot, rc Context) Verdict {
	if adv == nil {
		return Verdict{Approved: true}
	}
	v, err := adv.Review(ctx, sig, features, rc)
	if err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("advisor review failed; approving")
		return Verdict{Approved: true, Comment: "advisor unavailable"}
	}
	return v
}
