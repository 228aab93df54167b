// Package archive keeps extracted arrivals in a local SQLite database so
// later runs and the HTTP API can query them without the telemetry source.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"bus-arrivals/internal/transit"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a SQLite connection with write serialization.
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Connect opens (creating if needed) the SQLite database at path.
func Connect(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Printf("connected to SQLite archive: %s", path)
	return &DB{conn: conn}, nil
}

func (db *DB) Close() error { return db.conn.Close() }

// EnsureSchema creates the tables from the embedded schema.sql.
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun records one extraction run and its arrivals. Arrivals already
// archived by an earlier run are kept as they are. Returns the number of
// new rows.
func (db *DB) SaveRun(ctx context.Context, runID string, startedAt time.Time, routes int, events []transit.ArrivalEvent) (int, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO extraction_runs (run_id, started_at, routes, arrivals) VALUES (?, ?, ?, ?)`,
		runID, startedAt.UnixMilli(), routes, len(events)); err != nil {
		return 0, fmt.Errorf("insert run %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO arrivals (route_id, stop_id, direction_id, vehicle_id, arrived_at, distance_m, run_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert arrivals: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range events {
		res, err := stmt.ExecContext(ctx, e.RouteID, e.StopID, e.DirectionID, e.VehicleID, e.TimeMs, e.Distance, runID)
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

// ArrivalsFor returns a route's archived arrivals ordered by stop then time.
// An empty stopID returns every stop.
func (db *DB) ArrivalsFor(ctx context.Context, routeID, stopID string) ([]transit.ArrivalEvent, error) {
	q := `SELECT route_id, stop_id, direction_id, vehicle_id, arrived_at, distance_m
	      FROM arrivals WHERE route_id = ?`
	args := []any{routeID}
	if stopID != "" {
		q += ` AND stop_id = ?`
		args = append(args, stopID)
	}
	q += ` ORDER BY stop_id, arrived_at, vehicle_id`

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query arrivals: %w", err)
	}
	defer rows.Close()

	events := []transit.ArrivalEvent{}
	for rows.Next() {
		var e transit.ArrivalEvent
		if err := rows.Scan(&e.RouteID, &e.StopID, &e.DirectionID, &e.VehicleID, &e.TimeMs, &e.Distance); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ping reports whether the archive is reachable.
func (db *DB) Ping(ctx context.Context) error { return db.conn.PingContext(ctx) }
