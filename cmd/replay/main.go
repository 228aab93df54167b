package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"bus-arrivals/internal/api"
	"bus-arrivals/internal/archive"
	"bus-arrivals/internal/config"
	"bus-arrivals/internal/db"
	"bus-arrivals/internal/interp"
	"bus-arrivals/internal/metrics"
	"bus-arrivals/internal/publisher"
	"bus-arrivals/internal/replay"
	"bus-arrivals/internal/source"
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

	routes, err := loadRoutes(ctx, cfg)
	if err != nil {
		log.Fatalf("load telemetry: %v", err)
	}
	var samples []transit.Sample
	for _, rd := range routes {
		samples = append(samples, rd.Samples...)
	}
	tracks := interp.BuildTracks(samples)
	if len(tracks) == 0 {
		log.Fatalf("no vehicle tracks in telemetry")
	}

	var pub replay.Publisher
	if cfg.NATSURL != "" {
		var pm publisher.PublisherMetrics
		if mcol != nil {
			pm = mcol
		}
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, pm)
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer np.Close()
		pub = np
	}

	var rm replay.Metrics
	if mcol != nil {
		rm = mcol
	}
	rp := replay.New(pub, cfg.PublishInterval, cfg.SpeedMultiplier, rm)
	rp.Load(tracks)
	rp.Start(ctx)

	if cfg.HTTPAddr != "" {
		var repo api.ArrivalRepository
		if cfg.SQLitePath != "" {
			adb, err := archive.Connect(cfg.SQLitePath)
			if err != nil {
				log.Fatalf("sqlite: %v", err)
			}
			defer adb.Close()
			if err := adb.EnsureSchema(ctx); err != nil {
				log.Fatalf("sqlite schema: %v", err)
			}
			repo = adb
		}
		go api.Serve(ctx, cfg.HTTPAddr, api.NewRouter(cfg.CORSOrigins, repo, rp))
	}

	<-ctx.Done()
	rp.Stop()
	log.Println("shutdown complete")
}

func loadRoutes(ctx context.Context, cfg *config.Config) ([]transit.RouteData, error) {
	if cfg.InputFile != "" {
		return source.FromFile(cfg.InputFile, cfg.RouteMetaFile, cfg.Routes, cfg.WindowStart, cfg.WindowEnd)
	}
	conn, err := db.OpenAgency(ctx, cfg.DatabaseURL, cfg.Agency, cfg.WindowStart)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return source.FromDatabase(ctx, conn, cfg.Routes, cfg.WindowStart, cfg.WindowEnd)
}
