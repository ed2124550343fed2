package flood

import "math"

// Depth-damage curve constants (log fit of the stage-damage table).
const (
	minDamagingDepth = 0.025 // metres; shallower water does no damage
	fullDamageDepth  = 6.0   // metres; total loss at or above
	curveSlope       = 0.1746
	curveIntercept   = 0.6483
)

// ClampDepth normalizes a raw depth sample. Negative values (high ground in
// the raster) become zero.
func ClampDepth(depth float64) float64 {
	if depth < 0 || math.IsNaN(depth) {
		return 0
	}
	return depth
}

// EstimateDamage maps a flood depth to a damage fraction in [0,1].
// Monotonic non-decreasing and saturating at 1.
func EstimateDamage(depth float64) float64 {
	depth = ClampDepth(depth)
	switch {
	case depth >= fullDamageDepth:
		return 1
	case depth < minDamagingDepth:
		return 0
	}
	return clamp01(curveSlope*math.Log(depth) + curveIntercept)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
