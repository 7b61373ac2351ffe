package scoring

import "math"

// minScale is the floor applied to every normalization scale.
const minScale = 1e-9

// Inv1 maps a non-negative magnitude into (0, 1]: 1 at x = 0, 0.5 at
// x = scale, decreasing toward 0 as x grows.
//
// NaN (no value), +Inf and negative inputs return 0: an event that is never
// reached, or already behind the track, carries no urgency.
func Inv1(x, scale float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return 1 / (1 + x/math.Max(scale, minScale))
}

// Clamp01 restricts v to the range [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
