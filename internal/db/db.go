package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"bus-arrivals/internal/transit"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchRouteStops returns the stop catalog of a route ordered by ordinal.
// Stops without a direction come back with an empty DirectionID.
func FetchRouteStops(ctx context.Context, db *sql.DB, routeID string) ([]transit.StopPoint, error) {
	latlonExists, err := hasColumns(ctx, db, "public", "route_stops", "stop_lat", "stop_lon")
	if err != nil {
		return nil, fmt.Errorf("introspect route_stops columns: %w", err)
	}
	var q string
	if latlonExists["stop_lat"] && latlonExists["stop_lon"] {
		q = `SELECT stop_id, stop_lat, stop_lon, COALESCE(direction_id, ''), stop_ordinal
             FROM route_stops WHERE route_id = $1 ORDER BY stop_ordinal`
	} else {
		locExists, err := hasColumns(ctx, db, "public", "route_stops", "stop_loc")
		if err != nil {
			return nil, fmt.Errorf("introspect route_stops stop_loc: %w", err)
		}
		if !locExists["stop_loc"] {
			return nil, fmt.Errorf("route_stops table missing expected columns (stop_lat/lon or stop_loc)")
		}
		q = `SELECT stop_id, ST_Y(stop_loc::geometry), ST_X(stop_loc::geometry), COALESCE(direction_id, ''), stop_ordinal
             FROM route_stops WHERE route_id = $1 ORDER BY stop_ordinal`
	}
	rows, err := db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query route_stops: %w", err)
	}
	defer rows.Close()

	var stops []transit.StopPoint
	for rows.Next() {
		var s transit.StopPoint
		if err := rows.Scan(&s.StopID, &s.Lat, &s.Lon, &s.DirectionID, &s.Ordinal); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// FetchSamples returns the vehicle pings of a route within [start, end).
// Missing coordinates are returned as NaN so they are counted as malformed
// by the extractor rather than silently dropped here.
func FetchSamples(ctx context.Context, db *sql.DB, routeID string, start, end time.Time) ([]transit.Sample, error) {
	q := `SELECT vehicle_id, COALESCE(direction_id, ''), recorded_at, lat, lon
          FROM vehicle_positions
          WHERE route_id = $1 AND recorded_at >= $2 AND recorded_at < $3
          ORDER BY recorded_at`
	rows, err := db.QueryContext(ctx, q, routeID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query vehicle_positions: %w", err)
	}
	defer rows.Close()

	var samples []transit.Sample
	for rows.Next() {
		var s transit.Sample
		var at time.Time
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&s.VehicleID, &s.DirectionID, &at, &lat, &lon); err != nil {
			return nil, err
		}
		s.TimeMs = at.UnixMilli()
		s.Lat, s.Lon = nullToNaN(lat), nullToNaN(lon)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// InsertArrivals stores one extraction run. Re-running over the same window
// is idempotent on (route, stop, vehicle, time).
func InsertArrivals(ctx context.Context, db *sql.DB, runID string, events []transit.ArrivalEvent) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO arrivals (run_id, route_id, stop_id, direction_id, vehicle_id, arrived_at, distance_m)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (route_id, stop_id, vehicle_id, arrived_at) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert arrivals: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range events {
		res, err := stmt.ExecContext(ctx, runID, e.RouteID, e.StopID, e.DirectionID, e.VehicleID, e.Time().UTC(), e.Distance)
		if err != nil {
			return 0, fmt.Errorf("insert arrival %s/%s/%s: %w", e.RouteID, e.StopID, e.VehicleID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit arrivals: %w", err)
	}
	return inserted, nil
}

func nullToNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
