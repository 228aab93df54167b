package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-arrivals/internal/arrivals"
	"bus-arrivals/internal/geo"
	"bus-arrivals/internal/store"
	"bus-arrivals/internal/transit"
)

func testRoute() transit.RouteData {
	stop := transit.StopPoint{StopID: "5579", Lat: 37.7725, Lon: -122.4215, DirectionID: "O"}
	var samples []transit.Sample
	for i, dLat := range []float64{-0.003, -0.0002, 0.003} {
		samples = append(samples, transit.Sample{
			TimeMs:      int64(i) * 30000,
			VehicleID:   "1401",
			Lat:         stop.Lat + dLat,
			Lon:         stop.Lon,
			DirectionID: "O",
		})
	}
	return transit.RouteData{RouteID: "14", Stops: []transit.StopPoint{stop}, Samples: samples}
}

func TestExtractRoutes(t *testing.T) {
	ex := arrivals.NewExtractor(geo.Vincenty, geo.Haversine, arrivals.DefaultOptions(), nil)
	arch, all, err := extractRoutes(context.Background(), ex, []transit.RouteData{testRoute()}, arrivals.Filter{}, 2, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(30000), all[0].TimeMs)
	assert.Equal(t, []string{"5579"}, arch.Stops("14"))
}

func TestExtractRoutesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := arrivals.NewExtractor(geo.Haversine, nil, arrivals.DefaultOptions(), nil)
	_, _, err := extractRoutes(ctx, ex, []transit.RouteData{testRoute()}, arrivals.Filter{}, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "route 14")
}

func TestWriteArchiveMergesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arrivals.json")
	rd := testRoute()
	ev := transit.ArrivalEvent{VehicleID: "1401", TimeMs: 1, StopID: "5579", DirectionID: "O", RouteID: "14"}

	first := store.New()
	addToArchive(first, rd, []transit.ArrivalEvent{ev})
	require.NoError(t, writeArchive(path, first))

	second := store.New()
	ev.TimeMs = 2
	addToArchive(second, rd, []transit.ArrivalEvent{ev})
	require.NoError(t, writeArchive(path, second))

	got, err := store.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, got.Events("14"), 2)
}

func TestWriteArchiveRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arrivals.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	assert.Error(t, writeArchive(path, store.New()))
}
