package db

import (
	"context"
	"database/sql"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-arrivals/internal/transit"
)

func setupTestDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set - skipping integration test")
	}
	conn, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, Ping(context.Background(), conn))

	// Column introspection looks in the public schema, so these cannot be
	// temp tables. Point DATABASE_URL at a disposable database.
	_, err = conn.Exec(`
DROP TABLE IF EXISTS route_stops, vehicle_positions, arrivals;
CREATE TABLE route_stops (route_id text, stop_id text, stop_lat double precision, stop_lon double precision, direction_id text, stop_ordinal int);
CREATE TABLE vehicle_positions (route_id text, vehicle_id text, direction_id text, recorded_at timestamptz, lat double precision, lon double precision);
CREATE TABLE arrivals (run_id uuid, route_id text, stop_id text, direction_id text, vehicle_id text, arrived_at timestamptz, distance_m double precision,
  PRIMARY KEY (route_id, stop_id, vehicle_id, arrived_at));`)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Exec(`DROP TABLE IF EXISTS route_stops, vehicle_positions, arrivals`) })
	return conn
}

func TestLoadRouteAndInsertArrivals(t *testing.T) {
	conn := setupTestDB(t)
	ctx := context.Background()
	_, err := conn.ExecContext(ctx, `
INSERT INTO route_stops VALUES ('14', 'B', 37.78, -122.41, NULL, 2), ('14', 'A', 37.77, -122.42, '14___O_F00', 1);
INSERT INTO vehicle_positions VALUES
  ('14', '1401', '14___O_F00', '2018-11-12T16:00:00Z', 37.77, -122.42),
  ('14', '1401', '14___O_F00', '2018-11-12T16:00:30Z', NULL, -122.42),
  ('14', '1401', '14___O_F00', '2018-11-12T20:00:00Z', 37.77, -122.42);`)
	require.NoError(t, err)

	start := time.Date(2018, 11, 12, 16, 0, 0, 0, time.UTC)
	rd, err := LoadRoute(ctx, conn, "14", start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, rd.Stops, 2)
	assert.Equal(t, "A", rd.Stops[0].StopID)
	assert.Equal(t, "", rd.Stops[1].DirectionID)
	require.Len(t, rd.Samples, 2)
	assert.True(t, math.IsNaN(rd.Samples[1].Lat))

	ev := transit.ArrivalEvent{VehicleID: "1401", TimeMs: start.UnixMilli(), StopID: "A", DirectionID: "14___O_F00", RouteID: "14", Distance: 3}
	n, err := InsertArrivals(ctx, conn, uuid.NewString(), []transit.ArrivalEvent{ev, ev})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveAgencyDBName(t *testing.T) {
	conn := setupTestDB(t)
	ctx := context.Background()
	_, err := conn.ExecContext(ctx, `
DROP TABLE IF EXISTS public.telemetry_imports;
CREATE TABLE public.telemetry_imports (db_name text, agency text, covers_from timestamptz, covers_until timestamptz, completed_at timestamptz);
INSERT INTO public.telemetry_imports VALUES
  ('muni_201811', 'muni', '2018-11-01 00:00:00+00', '2018-12-01 00:00:00+00', '2018-12-02 00:00:00+00'),
  ('muni_201812', 'Muni', '2018-12-01 00:00:00+00', '2019-01-01 00:00:00+00', '2019-01-02 00:00:00+00'),
  ('muni_201901', 'muni', '2019-01-01 00:00:00+00', '2019-02-01 00:00:00+00', NULL),
  ('actransit_201811', 'actransit', '2018-11-01 00:00:00+00', '2018-12-01 00:00:00+00', '2018-12-02 00:00:00+00');`)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Exec(`DROP TABLE IF EXISTS public.telemetry_imports`) })

	name, err := ResolveAgencyDBName(ctx, conn, " MUNI ", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "muni_201812", name, "incomplete imports are ignored")

	name, err = ResolveAgencyDBName(ctx, conn, "muni", time.Date(2018, 11, 12, 16, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "muni_201811", name)

	_, err = ResolveAgencyDBName(ctx, conn, "muni", time.Date(2019, 1, 15, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoImport)

	_, err = ResolveAgencyDBName(ctx, conn, "", time.Time{})
	assert.Error(t, err)
}
