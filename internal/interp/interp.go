package interp

import (
	"math"
	"sort"

	"bus-arrivals/internal/transit"
)

// Intervals shorter than this (in keyframe time units) are treated as a jump
// to the later keyframe.
const degenerateEpsilon = 1e-8

// PositionAt returns the position of an entity at time t by linear
// interpolation between the keyframes bracketing t. Keyframes must be sorted
// by T and deduplicated (see Dedupe). Positions are clamped to the first and
// last keyframe; there is no extrapolation. A NaN t yields the first
// keyframe. An empty sequence yields (0, 0).
func PositionAt(kfs []transit.Keyframe, t float64) (x, y float64) {
	n := len(kfs)
	if n == 0 {
		return 0, 0
	}
	if t <= kfs[0].T || math.IsNaN(t) {
		return kfs[0].X, kfs[0].Y
	}
	if t >= kfs[n-1].T {
		return kfs[n-1].X, kfs[n-1].Y
	}
	// first keyframe with T >= t; always in [1, n-1] here
	i := sort.Search(n, func(i int) bool { return kfs[i].T >= t })
	k1, k2 := kfs[i-1], kfs[i]
	dt := k2.T - k1.T
	if dt < degenerateEpsilon {
		return k2.X, k2.Y
	}
	frac := (t - k1.T) / dt
	return k1.X + (k2.X-k1.X)*frac, k1.Y + (k2.Y-k1.Y)*frac
}

// Dedupe returns a copy of kfs sorted by time with consecutive keyframes at
// an identical position collapsed to the first one.
func Dedupe(kfs []transit.Keyframe) []transit.Keyframe {
	if len(kfs) == 0 {
		return nil
	}
	sorted := make([]transit.Keyframe, len(kfs))
	copy(sorted, kfs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })

	out := make([]transit.Keyframe, 0, len(sorted))
	out = append(out, sorted[0])
	for _, k := range sorted[1:] {
		last := out[len(out)-1]
		if k.X == last.X && k.Y == last.Y {
			continue
		}
		out = append(out, k)
	}
	return out
}
