package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"momentum-core/internal/indicators"
	"momentum-core/internal/strategy"
)

func candidate(target, relVol, gap float64) *strategy.Signal {
	return &strategy.Signal{
		Symbol: "BTCUSDT", Exchange: "paper", Timeframe: "5m", Side: strategy.SideLong,
		Entry: 100, Stop: 99, Target: target, Qty: 1,
		RelVolume: relVol, GapPct: gap,
	}
}

func TestRulesAdvisorFlags(t *testing.T) {
	tests := []struct {
		name      string
		mode      Mode
		sig       *strategy.Signal
		wantOK    bool
		wantFlags int
	}{
		{"clean annotate", ModeAnnotate, candidate(102, 3, 1), true, 0},
		{"low R annotate", ModeAnnotate, candidate(101.2, 3, 1), true, 1},
		{"everything weak annotate", ModeAnnotate, candidate(101.2, 1.5, 0.1), true, 3},
		{"clean gatekeep", ModeGatekeep, candidate(102, 3, 1), true, 0},
		{"weak gap gatekeep", ModeGatekeep, candidate(102, 3, 0.2), false, 1},
		{"off ignores flags", ModeOff, candidate(101.2, 1, 0), true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewRulesAdvisor(tt.mode, DefaultThresholds())
			v, err := a.Review(context.Background(), tt.sig, indicators.Snapshot{}, Context{})
			if err != nil {
				t.Fatalf("Review returned error: %v", err)
			}
			if v.Approved != tt.wantOK {
				t.Fatalf("Approved=%v, expected %v", v.Approved, tt.wantOK)
			}
			if len(v.Flags) != tt.wantFlags {
				t.Fatalf("Flags=%v, expected %d", v.Flags, tt.wantFlags)
			}
		})
	}
}

func TestConfidenceRewardsAlignedBreakout(t *testing.T) {
	sig := candidate(102, 3, 1)
	aligned := indicators.Snapshot{Close: 110, EMAFast: 108, EMAMedium: 105, EMASlow: 100, BreakoutLevel: 109}
	if got := Confidence(sig, aligned); got != 100 {
		t.Fatalf("Confidence=%d, expected 100", got)
	}
	weak := indicators.Snapshot{Close: 100, EMAFast: 101, EMAMedium: 102, EMASlow: 103, BreakoutLevel: 105}
	if got := Confidence(sig, weak); got >= 80 {
		t.Fatalf("Confidence=%d for misaligned features, expected < 80", got)
	}
}

type failingAdvisor struct{}

func (failingAdvisor) Review(context.Context, *strategy.Signal, indicators.Snapshot, Context) (Verdict, error) {
	return Verdict{}, errors.New("upstream timeout")
}

func TestReviewTreatsErrorsAsApproval(t *testing.T) {
	v := Review(context.Background(), zerolog.Nop(), failingAdvisor{}, candidate(102, 3, 1), indicators.Snapshot{}, Context{})
	if !v.Approved {
		t.Fatalf("Approved=false, expected advisor errors to approve")
	}
	if !strings.Contains(v.Comment, "unavailable") {
		t.Fatalf("Comment=%q", v.Comment)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAnnotate, "OFF": ModeOff, " gatekeep ": ModeGatekeep} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%v,%v, expected %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("veto"); err == nil {
		t.Fatalf("ParseMode(veto) returned nil error")
	}
}
