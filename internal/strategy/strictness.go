package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const (
	// MaxLooseness caps how far thresholds may be relaxed.
	MaxLooseness = 0.6
	// LooseModeDefault is the looseness applied by SetMode("loose").
	LooseModeDefault = 0.30
)

// StrictnessSnapshot is the immutable view the scan loop reads once per cycle.
type StrictnessSnapshot struct {
	Looseness       float64 `json:"looseness"`
	ForceTestSignal bool    `json:"force_test_signal"`
}

// Strictness holds the shared tuning knobs. All access goes through the
// setters and Snapshot, which are safe for concurrent use.
type Strictness struct {
	mu        sync.RWMutex
	looseness float64
	force     bool
}

// NewStrictness starts at the given looseness (clamped).
func NewStrictness(looseness float64) *Strictness {
	s := &Strictness{}
	s.SetLooseness(looseness)
	return s
}

// Looseness returns the current factor in [0, MaxLooseness].
func (s *Strictness) Looseness() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.looseness
}

// SetLooseness clamps v to [0, MaxLooseness] and returns the applied value.
func (s *Strictness) SetLooseness(v float64) float64 {
	v = clampLooseness(v)
	s.mu.Lock()
	s.looseness = v
	s.mu.Unlock()
	return v
}

// SetMode accepts "strict", "loose" or "loose:<factor>".
func (s *Strictness) SetMode(mode string) (float64, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch {
	case mode == "strict":
		return s.SetLooseness(0), nil
	case mode == "loose":
		return s.SetLooseness(LooseModeDefault), nil
	case strings.HasPrefix(mode, "loose:"):
		v, err := strconv.ParseFloat(strings.TrimPrefix(mode, "loose:"), 64)
		if err != nil {
			return s.Looseness(), fmt.Errorf("parse looseness %q: %w", mode, err)
		}
		return s.SetLooseness(v), nil
	default:
		return s.Looseness(), fmt.Errorf("unknown strictness mode %q", mode)
	}
}

// SetForceTestSignal toggles the diagnostic forced-candidate path.
func (s *Strictness) SetForceTestSignal(on bool) {
	s.mu.Lock()
	s.force = on
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of all knobs.
func (s *Strictness) Snapshot() StrictnessSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StrictnessSnapshot{Looseness: s.looseness, ForceTestSignal: s.force}
}

func clampLooseness(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > MaxLooseness {
		return MaxLooseness
	}
	return v
}
