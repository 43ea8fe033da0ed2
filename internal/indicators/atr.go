package indicators

import (
	"math"

	"momentum-core/pkg/exchanges/common"
)

// TrueRange returns the true range series. The first element is high-low.
func TrueRange(candles []common.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			out[i] = c.High - c.Low
			continue
		}
		prev := candles[i-1].Close
		out[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
	}
	return out
}

// ATR smooths the true range with factor 1/period (Wilder), seeded with the
// first true range.
func ATR(candles []common.Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}
	tr := TrueRange(candles)
	alpha := 1.0 / float64(period)
	atr := tr[0]
	for _, v := range tr[1:] {
		atr = alpha*v + (1-alpha)*atr
	}
	return atr
}
