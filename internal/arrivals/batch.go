package arrivals

import (
	"context"
	"errors"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"

	"bus-arrivals/internal/transit"
)

// Filter restricts a batch to the listed directions and stops. Empty lists
// allow everything.
type Filter struct {
	Directions []string
	StopIDs    []string
}

func (f Filter) allows(stop transit.StopPoint) bool {
	if len(f.Directions) > 0 && !contains(f.Directions, stop.DirectionID) {
		return false
	}
	if len(f.StopIDs) > 0 && !contains(f.StopIDs, stop.StopID) {
		return false
	}
	return true
}

// BatchResult aggregates the arrivals of every stop of a route.
type BatchResult struct {
	RouteID        string
	Arrivals       []transit.ArrivalEvent
	StopsProcessed int
	StopsSkipped   int
	Skipped        SkipCounts
}

func (b *BatchResult) merge(stop transit.StopPoint, res Result, err error) {
	if err != nil {
		b.StopsSkipped++
		log.Printf("route %s: skipping stop %s: %v", b.RouteID, stop.StopID, err)
		return
	}
	b.StopsProcessed++
	b.Skipped.Add(res.Skipped)
	b.Arrivals = append(b.Arrivals, res.Arrivals...)
	if res.Skipped.Malformed > 0 {
		log.Printf("route %s stop %s: dropped %d malformed samples (first: %v)", b.RouteID, stop.StopID, res.Skipped.Malformed, res.FirstMalformed)
	}
}

// ExtractRoute runs Extract for every stop of the route that passes the
// filter, in stop ordinal order. Stops that cannot be processed are logged
// and skipped.
func (e *Extractor) ExtractRoute(route transit.RouteData, f Filter) BatchResult {
	stops, byDir, unmatched := e.prepare(route, f)
	out := BatchResult{RouteID: route.RouteID}
	e.reportUnmatched(&out, unmatched)
	for _, stop := range stops {
		res, err := e.Extract(route.RouteID, stop, byDir[stop.DirectionID])
		e.reportStopErr(err)
		out.merge(stop, res, err)
	}
	return out
}

// ExtractRouteParallel is ExtractRoute with stops fanned out over at most
// workers goroutines. The result is identical to ExtractRoute.
func (e *Extractor) ExtractRouteParallel(ctx context.Context, route transit.RouteData, f Filter, workers int) (BatchResult, error) {
	stops, byDir, unmatched := e.prepare(route, f)
	results := make([]Result, len(stops))
	errs := make([]error, len(stops))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, stop := range stops {
		i, stop := i, stop
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = e.Extract(route.RouteID, stop, byDir[stop.DirectionID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{RouteID: route.RouteID}, err
	}

	out := BatchResult{RouteID: route.RouteID}
	e.reportUnmatched(&out, unmatched)
	for i, stop := range stops {
		e.reportStopErr(errs[i])
		out.merge(stop, results[i], errs[i])
	}
	return out, nil
}

// prepare selects the stops to process in ordinal order and partitions the
// samples by direction. Samples whose direction no selected stop serves are
// counted in unmatched.
func (e *Extractor) prepare(route transit.RouteData, f Filter) (stops []transit.StopPoint, byDir map[string][]transit.Sample, unmatched int) {
	stops = make([]transit.StopPoint, 0, len(route.Stops))
	served := make(map[string]bool)
	for _, s := range route.Stops {
		if f.allows(s) {
			stops = append(stops, s)
			if s.DirectionID != "" {
				served[s.DirectionID] = true
			}
		}
	}
	sort.SliceStable(stops, func(i, j int) bool { return stops[i].Ordinal < stops[j].Ordinal })

	byDir = make(map[string][]transit.Sample)
	for _, s := range route.Samples {
		if !served[s.DirectionID] {
			unmatched++
			continue
		}
		byDir[s.DirectionID] = append(byDir[s.DirectionID], s)
	}
	return stops, byDir, unmatched
}

func (e *Extractor) reportUnmatched(out *BatchResult, n int) {
	out.Skipped.OtherDirection += n
	if e.metrics != nil {
		e.metrics.SamplesSkipped("other_direction", n)
	}
}

func (e *Extractor) reportStopErr(err error) {
	if err == nil || e.metrics == nil {
		return
	}
	var md *MissingDirectionError
	if errors.As(err, &md) {
		e.metrics.StopSkipped("missing_direction")
		return
	}
	e.metrics.StopSkipped("invalid_stop")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
