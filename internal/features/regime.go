package features

import "math"

// RegimeScore rates the trend regime on 0..100, with 50 as neutral.
// returnFrac and volumeAccel are fractional changes over the lookback;
// rangeRatio is the current candle range over the average range, 1 when
// unknown. Each term saturates: return at ±30, volume at ±20 and range at
// ±20 points.
func RegimeScore(returnFrac, volumeAccel, rangeRatio float64) float64 {
	score := 50.0
	score += clamp(returnFrac*2000, -30, 30)
	score += clamp(volumeAccel*20, -20, 20)
	score += clamp((rangeRatio-1)*20, -20, 20)
	return math.Round(clamp(score, 0, 100))
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(lo, math.Min(hi, x))
}
