package db

import (
	"context"
	"database/sql"
	"log"
	"time"

	"bus-arrivals/internal/transit"
)

// OpenAgency returns a connection to the telemetry database. When dsn names
// no database, or the cluster's "postgres" database, the agency's import
// covering at (the newest one for a zero at) is looked up in
// public.telemetry_imports first.
func OpenAgency(ctx context.Context, dsn, agency string, at time.Time) (*sql.DB, error) {
	target := dsn
	if name := DatabaseName(dsn); agency != "" && (name == "" || name == "postgres") {
		rootDSN, err := WithDatabase(dsn, "postgres")
		if err != nil {
			return nil, err
		}
		meta, err := Open(rootDSN)
		if err != nil {
			return nil, err
		}
		defer meta.Close()
		if err := Ping(ctx, meta); err != nil {
			return nil, err
		}
		name, err := ResolveAgencyDBName(ctx, meta, agency, at)
		if err != nil {
			return nil, err
		}
		if target, err = WithDatabase(dsn, name); err != nil {
			return nil, err
		}
		log.Printf("using database %q for agency %q", name, agency)
	}
	conn, err := Open(target)
	if err != nil {
		return nil, err
	}
	if err := Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// LoadRoute fetches the stop catalog and the telemetry window of one route.
func LoadRoute(ctx context.Context, conn *sql.DB, routeID string, start, end time.Time) (transit.RouteData, error) {
	rd := transit.RouteData{RouteID: routeID}
	stops, err := FetchRouteStops(ctx, conn, routeID)
	if err != nil {
		return rd, err
	}
	samples, err := FetchSamples(ctx, conn, routeID, start, end)
	if err != nil {
		return rd, err
	}
	rd.Stops, rd.Samples = stops, samples
	return rd, nil
}
