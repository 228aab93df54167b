package arrivals

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"bus-arrivals/internal/geo"
	"bus-arrivals/internal/transit"
)

type Options struct {
	MaxRadiusMeters        float64
	SessionGap             time.Duration
	ArrivalThresholdMeters float64
}

func DefaultOptions() Options {
	return Options{
		MaxRadiusMeters:        750,
		SessionGap:             30 * time.Minute,
		ArrivalThresholdMeters: 100,
	}
}

// Metrics receives extraction counters; nil disables reporting.
type Metrics interface {
	StopProcessed(d time.Duration)
	StopSkipped(reason string)
	SamplesSkipped(reason string, n int)
	SessionsFound(n int)
	ArrivalsEmitted(n int)
}

// Extractor turns telemetry samples into stop arrival events. It holds no
// mutable state; one Extractor may serve concurrent calls.
type Extractor struct {
	distance  geo.DistanceFunc
	prefilter geo.DistanceFunc
	opts      Options
	metrics   Metrics
}

// NewExtractor builds an Extractor. distance is used for the reported
// distances; prefilter, when non-nil, is a cheaper function used only for the
// radius cut.
func NewExtractor(distance, prefilter geo.DistanceFunc, opts Options, m Metrics) *Extractor {
	if distance == nil {
		distance = geo.Haversine
	}
	return &Extractor{distance: distance, prefilter: prefilter, opts: opts, metrics: m}
}

func (e *Extractor) Options() Options { return e.opts }

// Result of extracting one stop.
type Result struct {
	Arrivals []transit.ArrivalEvent
	Sessions int
	Skipped  SkipCounts
	// FirstMalformed is the first sample error seen, for logging.
	FirstMalformed error
}

type measured struct {
	transit.Sample
	dist float64
}

// Extract computes one arrival per visit session of every vehicle near stop.
// Only a stop without a direction id is an error; everything else is skipped
// and counted.
func (e *Extractor) Extract(routeID string, stop transit.StopPoint, samples []transit.Sample) (Result, error) {
	var res Result
	if stop.DirectionID == "" {
		return res, &MissingDirectionError{StopID: stop.StopID}
	}
	stopPt := geo.Point{Lat: stop.Lat, Lon: stop.Lon}
	if !stopPt.Valid() {
		return res, fmt.Errorf("stop %s: %w", stop.StopID, geo.ErrInvalidCoordinate)
	}
	start := time.Now()

	series := make([]measured, 0, len(samples))
	for _, s := range samples {
		if s.DirectionID != stop.DirectionID {
			res.Skipped.OtherDirection++
			continue
		}
		d, inside, err := e.measure(stopPt, s)
		if err != nil {
			res.Skipped.Malformed++
			if res.FirstMalformed == nil {
				res.FirstMalformed = err
			}
			continue
		}
		if !inside {
			res.Skipped.OutOfRadius++
			continue
		}
		series = append(series, measured{Sample: s, dist: d})
	}

	for _, sess := range splitSessions(series, e.opts.SessionGap) {
		n, d, err := nadir(sess, e.opts.ArrivalThresholdMeters)
		if errors.Is(err, ErrEmptySession) {
			res.Skipped.EmptySessions++
			continue
		}
		res.Sessions++
		res.Arrivals = append(res.Arrivals, transit.ArrivalEvent{
			VehicleID:   n.VehicleID,
			TimeMs:      n.TimeMs,
			StopID:      stop.StopID,
			DirectionID: stop.DirectionID,
			RouteID:     routeID,
			Distance:    d,
		})
	}

	if e.metrics != nil {
		e.metrics.StopProcessed(time.Since(start))
		e.metrics.SamplesSkipped("malformed", res.Skipped.Malformed)
		e.metrics.SamplesSkipped("other_direction", res.Skipped.OtherDirection)
		e.metrics.SamplesSkipped("out_of_radius", res.Skipped.OutOfRadius)
		e.metrics.SessionsFound(res.Sessions)
		e.metrics.ArrivalsEmitted(len(res.Arrivals))
	}
	return res, nil
}

// measure returns the distance of s to the stop and whether it lies within
// the configured radius.
func (e *Extractor) measure(stop geo.Point, s transit.Sample) (float64, bool, error) {
	if s.VehicleID == "" {
		return 0, false, &MalformedSampleError{TimeMs: s.TimeMs, Err: errMissingVehicle}
	}
	p := geo.Point{Lat: s.Lat, Lon: s.Lon}
	if e.prefilter != nil {
		approx, err := e.prefilter(p, stop)
		if err != nil {
			return 0, false, &MalformedSampleError{VehicleID: s.VehicleID, TimeMs: s.TimeMs, Err: err}
		}
		if approx > e.opts.MaxRadiusMeters {
			return approx, false, nil
		}
	}
	d, err := e.distance(p, stop)
	if err != nil {
		return 0, false, &MalformedSampleError{VehicleID: s.VehicleID, TimeMs: s.TimeMs, Err: err}
	}
	if e.prefilter == nil && d > e.opts.MaxRadiusMeters {
		return d, false, nil
	}
	return d, true, nil
}

// splitSessions groups the series by vehicle (vehicles in id order), sorts
// each group by time and cuts it wherever consecutive samples are more than
// gap apart.
func splitSessions(series []measured, gap time.Duration) [][]measured {
	byVehicle := make(map[string][]measured)
	for _, m := range series {
		byVehicle[m.VehicleID] = append(byVehicle[m.VehicleID], m)
	}
	ids := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	gapMs := gap.Milliseconds()
	var sessions [][]measured
	for _, id := range ids {
		group := byVehicle[id]
		sort.SliceStable(group, func(i, j int) bool { return group[i].TimeMs < group[j].TimeMs })
		startIdx := 0
		for i := 1; i < len(group); i++ {
			if group[i].TimeMs-group[i-1].TimeMs > gapMs {
				sessions = append(sessions, group[startIdx:i])
				startIdx = i
			}
		}
		if len(group) > 0 {
			sessions = append(sessions, group[startIdx:])
		}
	}
	return sessions
}

// nadir picks the arrival sample of a session and the distance to report.
// A forward minimum under threshold wins outright. Otherwise, if the minimum
// distance recurs at different times, the earliest sample is reported with
// the mean of the earliest and latest tied distances.
func nadir(sess []measured, threshold float64) (measured, float64, error) {
	if len(sess) == 0 {
		return measured{}, 0, ErrEmptySession
	}
	fwd := 0
	for i := 1; i < len(sess); i++ {
		if sess[i].dist < sess[fwd].dist {
			fwd = i
		}
	}
	if sess[fwd].dist < threshold {
		return sess[fwd], sess[fwd].dist, nil
	}
	bwd := len(sess) - 1
	for i := len(sess) - 2; i >= 0; i-- {
		if sess[i].dist < sess[bwd].dist {
			bwd = i
		}
	}
	if sess[fwd].TimeMs == sess[bwd].TimeMs {
		return sess[fwd], sess[fwd].dist, nil
	}
	return sess[fwd], (sess[fwd].dist + sess[bwd].dist) / 2, nil
}
