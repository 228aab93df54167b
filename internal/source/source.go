// Package source loads route telemetry either from an exported payload file
// or from the Postgres telemetry database.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"bus-arrivals/internal/db"
	"bus-arrivals/internal/telemetry"
	"bus-arrivals/internal/transit"
)

// DefaultWindow is used for database reads when no window is configured.
const DefaultWindow = 24 * time.Hour

// FromFile decodes the payload at path. Routes are restricted to routes
// when it is non-empty and samples to [start, end) when either bound is set.
// Without a route meta file stops carry no direction and extraction will
// skip them.
func FromFile(path, metaPath string, routes []string, start, end time.Time) ([]transit.RouteData, error) {
	defaultRoute := ""
	if len(routes) == 1 {
		defaultRoute = routes[0]
	}
	payloads, err := telemetry.LoadFile(path, defaultRoute)
	if err != nil {
		return nil, err
	}

	var meta telemetry.RouteMeta
	if metaPath != "" {
		if meta, err = telemetry.LoadRouteMeta(metaPath); err != nil {
			return nil, err
		}
	} else {
		log.Printf("ROUTE_META_FILE not set: stops have no direction")
	}

	var out []transit.RouteData
	for _, p := range payloads {
		if len(routes) > 0 && !contains(routes, p.RouteID) {
			continue
		}
		if p.DroppedStates > 0 {
			log.Printf("route %s: dropped %d route states with unparseable time", p.RouteID, p.DroppedStates)
		}
		rd := transit.RouteData{RouteID: p.RouteID, Samples: Window(p.Samples, start, end)}
		if metaPath != "" {
			stops, missing := telemetry.ResolveStops(p.Stops, meta)
			if len(missing) > 0 {
				log.Printf("route %s: %d stops not found in route meta: %v", p.RouteID, len(missing), missing)
			}
			rd.Stops = stops
		} else {
			for i, s := range p.Stops {
				rd.Stops = append(rd.Stops, transit.StopPoint{StopID: s.StopID, Lat: s.Lat, Lon: s.Lon, Ordinal: i})
			}
		}
		out = append(out, rd)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no matching routes", path)
	}
	return out, nil
}

// FromDatabase loads every route from conn. A zero end means now and a zero
// start means DefaultWindow before end.
func FromDatabase(ctx context.Context, conn *sql.DB, routes []string, start, end time.Time) ([]transit.RouteData, error) {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-DefaultWindow)
	}
	out := make([]transit.RouteData, 0, len(routes))
	for _, id := range routes {
		rd, err := db.LoadRoute(ctx, conn, id, start, end)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", id, err)
		}
		log.Printf("route %s: %d stops, %d samples between %s and %s", id, len(rd.Stops), len(rd.Samples),
			start.Format(time.RFC3339), end.Format(time.RFC3339))
		out = append(out, rd)
	}
	return out, nil
}

// Window keeps samples in [start, end). Zero bounds are open.
func Window(samples []transit.Sample, start, end time.Time) []transit.Sample {
	if start.IsZero() && end.IsZero() {
		return samples
	}
	out := make([]transit.Sample, 0, len(samples))
	for _, s := range samples {
		if !start.IsZero() && s.TimeMs < start.UnixMilli() {
			continue
		}
		if !end.IsZero() && s.TimeMs >= end.UnixMilli() {
			continue
		}
		out = append(out, s)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
