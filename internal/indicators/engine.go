package indicators

import (
	"math"

	"momentum-core/pkg/exchanges/common"
)

// Options configures the periods used by Compute.
type Options struct {
	FastPeriod       int `yaml:"fast_period" default:"9"`
	MediumPeriod     int `yaml:"medium_period" default:"20"`
	SlowPeriod       int `yaml:"slow_period" default:"50"`
	ATRPeriod        int `yaml:"atr_period" default:"14"`
	VolumeWindow     int `yaml:"volume_window" default:"20"`
	SpikeWindow      int `yaml:"spike_window" default:"20"`
	BreakoutLookback int `yaml:"breakout_lookback" default:"12"`
}

// DefaultOptions returns the 9/20/50 EMA, ATR14, 20-bar volume, 12-bar breakout set.
func DefaultOptions() Options {
	return Options{
		FastPeriod:       9,
		MediumPeriod:     20,
		SlowPeriod:       50,
		ATRPeriod:        14,
		VolumeWindow:     20,
		SpikeWindow:      20,
		BreakoutLookback: 12,
	}
}

// Snapshot is the feature set derived from one candle series.
type Snapshot struct {
	Close         float64 `json:"close"`
	EMAFast       float64 `json:"ema_fast"`
	EMAMedium     float64 `json:"ema_medium"`
	EMASlow       float64 `json:"ema_slow"`
	ATR           float64 `json:"atr"`
	RelVolume     float64 `json:"rel_volume"`
	VolumeSpike   float64 `json:"volume_spike"`
	GapPct        float64 `json:"gap_pct"`
	BreakoutLevel float64 `json:"breakout_level"`
}

// Compute derives a Snapshot from candles. It never panics on short or
// degenerate input: missing history yields 0, or the last close for levels.
func Compute(candles []common.Candle, opts Options) Snapshot {
	if len(candles) == 0 {
		return Snapshot{}
	}
	opts = opts.withDefaults()

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	last := closes[len(closes)-1]

	s := Snapshot{
		Close:         finite(last, 0),
		EMAFast:       finite(EMA(closes, opts.FastPeriod), last),
		EMAMedium:     finite(EMA(closes, opts.MediumPeriod), last),
		EMASlow:       finite(EMA(closes, opts.SlowPeriod), last),
		ATR:           finite(ATR(candles, opts.ATRPeriod), 0),
		RelVolume:     finite(RelativeVolume(volumes, opts.VolumeWindow), 0),
		VolumeSpike:   finite(RelativeVolume(volumes, opts.SpikeWindow), 0),
		GapPct:        finite(GapPct(closes), 0),
		BreakoutLevel: finite(BreakoutLevel(candles, opts.BreakoutLookback), last),
	}
	return s
}

// RelativeVolume divides the latest volume by the mean of the window volumes
// preceding it. Returns 0 when history is too short or the mean is not positive.
func RelativeVolume(volumes []float64, window int) float64 {
	if window <= 0 || len(volumes) < window+1 {
		return 0
	}
	mean := SMA(volumes[:len(volumes)-1], window)
	if mean <= 0 {
		return 0
	}
	return volumes[len(volumes)-1] / mean
}

// GapPct is the percentage change between the two most recent closes.
func GapPct(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	prev := closes[len(closes)-2]
	if prev == 0 {
		return 0
	}
	return (closes[len(closes)-1] - prev) / prev * 100
}

// BreakoutLevel is the highest high of up to lookback candles preceding the
// final candle. With fewer than two preceding candles it is the final high.
func BreakoutLevel(candles []common.Candle, lookback int) float64 {
	if len(candles) == 0 {
		return 0
	}
	lb := lookback
	if n := len(candles) - 1; lb > n {
		lb = n
	}
	if lb < 2 {
		return candles[len(candles)-1].High
	}
	level := math.Inf(-1)
	for _, c := range candles[len(candles)-1-lb : len(candles)-1] {
		level = math.Max(level, c.High)
	}
	return level
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.FastPeriod <= 0 {
		o.FastPeriod = def.FastPeriod
	}
	if o.MediumPeriod <= 0 {
		o.MediumPeriod = def.MediumPeriod
	}
	if o.SlowPeriod <= 0 {
		o.SlowPeriod = def.SlowPeriod
	}
	if o.ATRPeriod <= 0 {
		o.ATRPeriod = def.ATRPeriod
	}
	if o.VolumeWindow <= 0 {
		o.VolumeWindow = def.VolumeWindow
	}
	if o.SpikeWindow <= 0 {
		o.SpikeWindow = o.VolumeWindow
	}
	if o.BreakoutLookback <= 0 {
		o.BreakoutLookback = def.BreakoutLookback
	}
	return o
}

func finite(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
