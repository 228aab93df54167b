package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	// One degree of longitude on the equator of a 6371 km sphere.
	d, err := Haversine(Point{0, 0}, Point{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Pi*earthRadiusMeters/360, d, 1e-6)

	d, err = Haversine(Point{37.7749, -122.4194}, Point{37.7749, -122.4194})
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestVincenty(t *testing.T) {
	d, err := Vincenty(Point{0, 0}, Point{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 111319.49, d, 0.05)

	// Short hop in San Francisco: both formulas agree to within a few meters.
	a := Point{37.7793, -122.4193}
	b := Point{37.7825, -122.4150}
	hv, err := Haversine(a, b)
	require.NoError(t, err)
	vv, err := Vincenty(a, b)
	require.NoError(t, err)
	assert.InDelta(t, hv, vv, 3)
}

func TestInvalidCoordinates(t *testing.T) {
	tests := []struct {
		name string
		p    Point
	}{
		{"nan lat", Point{math.NaN(), 0}},
		{"nan lon", Point{0, math.NaN()}},
		{"lat out of range", Point{91, 0}},
		{"lon out of range", Point{0, -181}},
		{"inf", Point{math.Inf(1), 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Haversine(tc.p, Point{0, 0})
			assert.ErrorIs(t, err, ErrInvalidCoordinate)
			_, err = Vincenty(Point{0, 0}, tc.p)
			assert.ErrorIs(t, err, ErrInvalidCoordinate)
		})
	}
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, Bearing(Point{0, 0}, Point{1, 0}), 1e-9)
	assert.InDelta(t, 90, Bearing(Point{0, 0}, Point{0, 1}), 1e-9)
	assert.InDelta(t, 180, Bearing(Point{1, 0}, Point{0, 0}), 1e-9)
	assert.InDelta(t, 270, Bearing(Point{0, 1}, Point{0, 0}), 1e-9)
}
