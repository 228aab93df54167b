package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	StopsProcessed   prometheus.Counter
	StopsSkipped     *prometheus.CounterVec // reason label: missing_direction|invalid_stop
	SamplesDiscarded *prometheus.CounterVec // reason label: malformed|other_direction|out_of_radius
	Sessions         prometheus.Counter
	Arrivals         prometheus.Counter

	StopDuration  prometheus.Histogram
	RouteDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	ReplayTickDuration prometheus.Histogram
	ReplayEntities     prometheus.Gauge
	PublishDuration    prometheus.Histogram

	SpeedMultiplier prometheus.Gauge
	PublishInterval prometheus.Gauge // seconds
}

func NewCollector(speedMultiplier float64, publishInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		StopsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arrivals_stops_processed_total",
			Help: "Stops for which extraction completed.",
		}),
		StopsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arrivals_stops_skipped_total",
			Help: "Stops skipped by the batch extractor.",
		}, []string{"reason"}),
		SamplesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arrivals_samples_skipped_total",
			Help: "Telemetry samples discarded during extraction.",
		}, []string{"reason"}),
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arrivals_sessions_total",
			Help: "Visit sessions found near stops.",
		}),
		Arrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arrivals_emitted_total",
			Help: "Arrival events emitted.",
		}),
		StopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arrivals_stop_duration_seconds",
			Help:    "Duration of extraction for a single stop.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		RouteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arrivals_route_duration_seconds",
			Help:    "Duration of extraction for a whole route.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arrivals_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arrivals_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arrivals_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		ReplayTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "replay_tick_duration_seconds",
			Help:    "Duration of replay tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		ReplayEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_entities",
			Help: "Number of entities in the loaded animation state.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arrivals_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_speed_multiplier",
			Help: "Current replay speed multiplier.",
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_publish_interval_seconds",
			Help: "Publish interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.StopsProcessed, c.StopsSkipped, c.SamplesDiscarded, c.Sessions, c.Arrivals,
		c.StopDuration, c.RouteDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.ReplayTickDuration, c.ReplayEntities, c.PublishDuration,
		c.SpeedMultiplier, c.PublishInterval,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.PublishInterval.Set(publishInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Extraction counters, satisfying arrivals.Metrics.

func (c *Collector) StopProcessed(d time.Duration) {
	c.StopsProcessed.Inc()
	c.StopDuration.Observe(d.Seconds())
}

func (c *Collector) StopSkipped(reason string) { c.StopsSkipped.WithLabelValues(reason).Inc() }

func (c *Collector) SamplesSkipped(reason string, n int) {
	if n > 0 {
		c.SamplesDiscarded.WithLabelValues(reason).Add(float64(n))
	}
}

func (c *Collector) SessionsFound(n int)   { c.Sessions.Add(float64(n)) }
func (c *Collector) ArrivalsEmitted(n int) { c.Arrivals.Add(float64(n)) }

// Publisher counters, satisfying publisher.PublisherMetrics.

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// Replay counters, satisfying replay.Metrics.

func (c *Collector) TickObserve(d time.Duration) { c.ReplayTickDuration.Observe(d.Seconds()) }
func (c *Collector) EntitiesLoaded(n int)        { c.ReplayEntities.Set(float64(n)) }
