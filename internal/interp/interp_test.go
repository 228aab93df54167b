package interp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-arrivals/internal/transit"
)

func kf(t, x, y float64) transit.Keyframe { return transit.Keyframe{T: t, X: x, Y: y} }

func TestPositionAtSingleKeyframe(t *testing.T) {
	kfs := []transit.Keyframe{kf(100, 3, 4)}
	for _, at := range []float64{-1e9, 0, 100, 101, 1e12} {
		x, y := PositionAt(kfs, at)
		assert.Equal(t, 3.0, x)
		assert.Equal(t, 4.0, y)
	}
}

func TestPositionAt(t *testing.T) {
	kfs := []transit.Keyframe{kf(0, 0, 0), kf(10, 10, 10)}
	tests := []struct {
		name string
		at   float64
		x, y float64
	}{
		{"midpoint", 5, 5, 5},
		{"before first", -3, 0, 0},
		{"after last", 20, 10, 10},
		{"at first", 0, 0, 0},
		{"at last", 10, 10, 10},
		{"quarter", 2.5, 2.5, 2.5},
		{"nan time", math.NaN(), 0, 0},
		{"negative infinity", math.Inf(-1), 0, 0},
		{"positive infinity", math.Inf(1), 10, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x, y := PositionAt(kfs, tc.at)
			assert.InDelta(t, tc.x, x, 1e-12)
			assert.InDelta(t, tc.y, y, 1e-12)
		})
	}
}

func TestPositionAtMultipleSegments(t *testing.T) {
	kfs := []transit.Keyframe{kf(0, 0, 0), kf(10, 10, 0), kf(20, 10, 20)}
	x, y := PositionAt(kfs, 15)
	assert.InDelta(t, 10, x, 1e-12)
	assert.InDelta(t, 10, y, 1e-12)

	x, y = PositionAt(kfs, 10)
	assert.InDelta(t, 10, x, 1e-12)
	assert.InDelta(t, 0, y, 1e-12)
}

func TestPositionAtDegenerateInterval(t *testing.T) {
	kfs := []transit.Keyframe{kf(0, 0, 0), kf(1e-10, 5, 5)}
	x, y := PositionAt(kfs, 5e-11)
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 5.0, y)
}

func TestPositionAtIsPure(t *testing.T) {
	kfs := []transit.Keyframe{kf(0, 0, 0), kf(10, 10, 10), kf(30, -10, 50)}
	snapshot := append([]transit.Keyframe(nil), kfs...)
	queries := []float64{25, 3, 25, -1, 17.5, 3, 40}
	first := make([][2]float64, len(queries))
	for i, q := range queries {
		x, y := PositionAt(kfs, q)
		first[i] = [2]float64{x, y}
	}
	for i, q := range queries {
		x, y := PositionAt(kfs, q)
		assert.Equal(t, first[i], [2]float64{x, y})
	}
	assert.Equal(t, snapshot, kfs)
}

func TestPositionAtEmpty(t *testing.T) {
	x, y := PositionAt(nil, 5)
	assert.Zero(t, x)
	assert.Zero(t, y)
}

func TestDedupe(t *testing.T) {
	in := []transit.Keyframe{kf(30, 1, 1), kf(0, 0, 0), kf(10, 0, 0), kf(20, 1, 1), kf(40, 0, 0)}
	out := Dedupe(in)
	assert.Equal(t, []transit.Keyframe{kf(0, 0, 0), kf(20, 1, 1), kf(40, 0, 0)}, out)
	// input untouched
	assert.Equal(t, 30.0, in[0].T)
	assert.Nil(t, Dedupe(nil))
}

func TestBuildTracks(t *testing.T) {
	samples := []transit.Sample{
		{TimeMs: 2000, VehicleID: "v1", Lat: 1, Lon: 2},
		{TimeMs: 1000, VehicleID: "v1", Lat: 1, Lon: 2},
		{TimeMs: 3000, VehicleID: "v1", Lat: 2, Lon: 3},
		{TimeMs: 1500, VehicleID: "v2", Lat: 5, Lon: 6},
		{TimeMs: 1500, VehicleID: "", Lat: 5, Lon: 6},
		{TimeMs: 1600, VehicleID: "v2", Lat: math.NaN(), Lon: 6},
	}
	tracks := BuildTracks(samples)
	require.Len(t, tracks, 2)
	assert.Equal(t, []transit.Keyframe{kf(1000, 2, 1), kf(3000, 3, 2)}, tracks["v1"])
	assert.Equal(t, []transit.Keyframe{kf(1500, 6, 5)}, tracks["v2"])

	start, end, ok := tracks.Span()
	require.True(t, ok)
	assert.Equal(t, 1000.0, start)
	assert.Equal(t, 3000.0, end)
}

func TestPositionsAt(t *testing.T) {
	tracks := Tracks{
		"b": {kf(0, 0, 0), kf(10, 10, 20)},
		"a": {kf(5, 1, 1)},
	}
	st := NewAnimationState(tracks)
	assert.Equal(t, 0.0, st.Origin)

	got := PositionsAt(st, 5)
	assert.Equal(t, []EntityPosition{
		{EntityID: "a", Lon: 1, Lat: 1},
		{EntityID: "b", Lon: 5, Lat: 10},
	}, got)
}
