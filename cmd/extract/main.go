package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"bus-arrivals/internal/archive"
	"bus-arrivals/internal/arrivals"
	"bus-arrivals/internal/config"
	"bus-arrivals/internal/db"
	"bus-arrivals/internal/geo"
	"bus-arrivals/internal/headway"
	"bus-arrivals/internal/metrics"
	"bus-arrivals/internal/publisher"
	"bus-arrivals/internal/source"
	"bus-arrivals/internal/store"
	"bus-arrivals/internal/transit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.SpeedMultiplier, cfg.PublishInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Postgres serves as telemetry source when no input file is given, and
	// receives the arrivals whenever it is configured.
	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		sqlDB, err = db.OpenAgency(ctx, cfg.DatabaseURL, cfg.Agency, cfg.WindowStart)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer sqlDB.Close()
	}

	var routes []transit.RouteData
	if cfg.InputFile != "" {
		routes, err = source.FromFile(cfg.InputFile, cfg.RouteMetaFile, cfg.Routes, cfg.WindowStart, cfg.WindowEnd)
	} else {
		routes, err = source.FromDatabase(ctx, sqlDB, cfg.Routes, cfg.WindowStart, cfg.WindowEnd)
	}
	if err != nil {
		log.Fatalf("load telemetry: %v", err)
	}

	ex := arrivals.NewExtractor(geo.Vincenty, geo.Haversine, arrivals.Options{
		MaxRadiusMeters:        cfg.MaxRadiusMeters,
		SessionGap:             cfg.SessionGap,
		ArrivalThresholdMeters: cfg.ArrivalThresholdMeters,
	}, extractMetrics(mcol))
	filter := arrivals.Filter{Directions: cfg.Directions, StopIDs: cfg.Stops}

	runID := uuid.NewString()
	started := time.Now()
	log.Printf("extraction run %s: %d routes", runID, len(routes))

	arch, all, err := extractRoutes(ctx, ex, routes, filter, cfg.Workers, mcol)
	if err != nil {
		// deferred closes and the metrics shutdown must still run
		log.Printf("extraction run %s aborted: %v", runID, err)
		return
	}

	if cfg.ArchiveFile != "" {
		if err := writeArchive(cfg.ArchiveFile, arch); err != nil {
			log.Fatalf("archive file: %v", err)
		}
		log.Printf("wrote %s", cfg.ArchiveFile)
	}

	if cfg.SQLitePath != "" {
		adb, err := archive.Connect(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer adb.Close()
		if err := adb.EnsureSchema(ctx); err != nil {
			log.Fatalf("sqlite schema: %v", err)
		}
		n, err := adb.SaveRun(ctx, runID, started, len(routes), all)
		if err != nil {
			log.Fatalf("sqlite save: %v", err)
		}
		log.Printf("sqlite archive: %d new arrivals", n)
	}

	if sqlDB != nil {
		n, err := db.InsertArrivals(ctx, sqlDB, runID, all)
		if err != nil {
			log.Printf("insert arrivals: %v", err)
		} else {
			log.Printf("postgres: %d new arrivals", n)
		}
	}

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, publisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		failed := 0
		for _, ev := range all {
			if err := pub.PublishArrival(ev); err != nil {
				failed++
			}
		}
		pub.Close()
		log.Printf("nats: published %d arrivals, %d failed", len(all)-failed, failed)
	}

	for _, s := range headway.ByStop(all) {
		if s.Arrivals < 2 {
			continue
		}
		log.Printf("headway route=%s stop=%s dir=%s n=%d mean=%s expected_wait=%s experienced_wait=%s bunching=%.2f",
			s.RouteID, s.StopID, s.DirectionID, s.Arrivals,
			s.MeanHeadway.Round(time.Second), s.ExpectedWait.Round(time.Second), s.ExperiencedWait.Round(time.Second), s.BunchingRatio)
	}
	log.Printf("extraction run %s finished in %s: %d arrivals", runID, time.Since(started).Round(time.Millisecond), len(all))
}

// extractRoutes runs every route in turn. A cancelled ctx stops the run and
// returns its error; nothing is returned for the routes already done.
func extractRoutes(ctx context.Context, ex *arrivals.Extractor, routes []transit.RouteData, filter arrivals.Filter, workers int, mcol *metrics.Collector) (store.Archive, []transit.ArrivalEvent, error) {
	arch := store.New()
	var all []transit.ArrivalEvent
	for _, rd := range routes {
		routeStart := time.Now()
		res, err := ex.ExtractRouteParallel(ctx, rd, filter, workers)
		if err != nil {
			return nil, nil, fmt.Errorf("route %s: %w", rd.RouteID, err)
		}
		if mcol != nil {
			mcol.RouteDuration.Observe(time.Since(routeStart).Seconds())
		}
		log.Printf("route %s: %d arrivals from %d stops (%d skipped); samples skipped: %d malformed, %d other direction, %d out of radius",
			rd.RouteID, len(res.Arrivals), res.StopsProcessed, res.StopsSkipped,
			res.Skipped.Malformed, res.Skipped.OtherDirection, res.Skipped.OutOfRadius)
		addToArchive(arch, rd, res.Arrivals)
		all = append(all, res.Arrivals...)
	}
	return arch, all, nil
}

// addToArchive files events under their stop so stops without arrivals are
// still listed.
func addToArchive(arch store.Archive, rd transit.RouteData, events []transit.ArrivalEvent) {
	byStop := make(map[string][]transit.ArrivalEvent)
	for _, ev := range events {
		byStop[ev.StopID] = append(byStop[ev.StopID], ev)
	}
	for _, stop := range rd.Stops {
		if stop.DirectionID == "" {
			continue
		}
		arch.Add(rd.RouteID, stop, byStop[stop.StopID])
	}
}

// writeArchive merges into an existing archive file when there is one.
func writeArchive(path string, arch store.Archive) error {
	existing, err := store.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		existing = store.New()
	} else if err != nil {
		return err
	}
	existing.Merge(arch)
	return existing.WriteFile(path)
}

// extractMetrics and publisherMetrics keep a nil Collector out of the
// interfaces.
func extractMetrics(c *metrics.Collector) arrivals.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func publisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}
