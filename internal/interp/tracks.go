package interp

import (
	"math"
	"sort"

	"bus-arrivals/internal/transit"
)

// Tracks maps an entity id to its deduplicated keyframes.
type Tracks map[string][]transit.Keyframe

// BuildTracks groups samples by vehicle into keyframes (x = lon, y = lat,
// t = epoch ms). Samples without a vehicle id or with non-finite coordinates
// are ignored.
func BuildTracks(samples []transit.Sample) Tracks {
	raw := make(map[string][]transit.Keyframe)
	for _, s := range samples {
		if s.VehicleID == "" || !finite(s.Lat) || !finite(s.Lon) {
			continue
		}
		raw[s.VehicleID] = append(raw[s.VehicleID], transit.Keyframe{T: float64(s.TimeMs), X: s.Lon, Y: s.Lat})
	}
	tracks := make(Tracks, len(raw))
	for id, kfs := range raw {
		tracks[id] = Dedupe(kfs)
	}
	return tracks
}

// Span returns the earliest and latest keyframe time across all tracks.
func (tr Tracks) Span() (start, end float64, ok bool) {
	for _, kfs := range tr {
		if len(kfs) == 0 {
			continue
		}
		if !ok || kfs[0].T < start {
			start = kfs[0].T
		}
		if !ok || kfs[len(kfs)-1].T > end {
			end = kfs[len(kfs)-1].T
		}
		ok = true
	}
	return start, end, ok
}

// EntityPosition is one entity's interpolated position at a query time.
type EntityPosition struct {
	EntityID string  `json:"entityId"`
	Lon      float64 `json:"lon"`
	Lat      float64 `json:"lat"`
}

// AnimationState is the data an animation driver renders from. Origin is the
// telemetry time that corresponds to the start of playback.
type AnimationState struct {
	Tracks Tracks
	Origin float64
}

// NewAnimationState anchors playback at the earliest keyframe.
func NewAnimationState(tracks Tracks) AnimationState {
	start, _, _ := tracks.Span()
	return AnimationState{Tracks: tracks, Origin: start}
}

// PositionsAt evaluates every track at time t, ordered by entity id.
func PositionsAt(st AnimationState, t float64) []EntityPosition {
	ids := make([]string, 0, len(st.Tracks))
	for id, kfs := range st.Tracks {
		if len(kfs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]EntityPosition, 0, len(ids))
	for _, id := range ids {
		x, y := PositionAt(st.Tracks[id], t)
		out = append(out, EntityPosition{EntityID: id, Lon: x, Lat: y})
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
