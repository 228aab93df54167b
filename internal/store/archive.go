package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"bus-arrivals/internal/transit"
)

// Arrival is one archived arrival of a bus at a stop.
type Arrival struct {
	BusID     string `json:"bus_id"`
	Timestamp int64  `json:"timestamp"` // epoch ms
}

type StopRecord struct {
	DirectionID string    `json:"direction_id"`
	Order       int       `json:"order"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Arrivals    []Arrival `json:"eclipses"`
}

// Archive is the on-disk arrival dump: route id -> stop id -> record.
type Archive map[string]map[string]*StopRecord

func New() Archive { return make(Archive) }

// Routes returns the contained route ids, sorted.
func (a Archive) Routes() []string {
	out := make([]string, 0, len(a))
	for id := range a {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stops returns the stop ids of a route sorted by order, then id.
func (a Archive) Stops(routeID string) []string {
	route := a[routeID]
	out := make([]string, 0, len(route))
	for id := range route {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := route[out[i]].Order, route[out[j]].Order
		if oi != oj {
			return oi < oj
		}
		return out[i] < out[j]
	})
	return out
}

// Add records events for stop on route, creating entries as needed.
func (a Archive) Add(routeID string, stop transit.StopPoint, events []transit.ArrivalEvent) {
	route := a[routeID]
	if route == nil {
		route = make(map[string]*StopRecord)
		a[routeID] = route
	}
	rec := route[stop.StopID]
	if rec == nil {
		rec = &StopRecord{DirectionID: stop.DirectionID, Order: stop.Ordinal, Lat: stop.Lat, Lon: stop.Lon}
		route[stop.StopID] = rec
	}
	for _, e := range events {
		rec.Arrivals = append(rec.Arrivals, Arrival{BusID: e.VehicleID, Timestamp: e.TimeMs})
	}
}

// Merge folds other into a: arrivals of stops present in both are appended,
// new stops and routes are inserted.
func (a Archive) Merge(other Archive) {
	for routeID, otherRoute := range other {
		route := a[routeID]
		if route == nil {
			a[routeID] = otherRoute
			continue
		}
		for stopID, otherStop := range otherRoute {
			if rec := route[stopID]; rec != nil {
				rec.Arrivals = append(rec.Arrivals, otherStop.Arrivals...)
			} else {
				route[stopID] = otherStop
			}
		}
	}
}

// Events flattens one route back into arrival events, ordered by stop order
// then time.
func (a Archive) Events(routeID string) []transit.ArrivalEvent {
	var out []transit.ArrivalEvent
	for _, stopID := range a.Stops(routeID) {
		rec := a[routeID][stopID]
		arr := append([]Arrival(nil), rec.Arrivals...)
		sort.SliceStable(arr, func(i, j int) bool { return arr[i].Timestamp < arr[j].Timestamp })
		for _, x := range arr {
			out = append(out, transit.ArrivalEvent{
				VehicleID:   x.BusID,
				TimeMs:      x.Timestamp,
				StopID:      stopID,
				DirectionID: rec.DirectionID,
				RouteID:     routeID,
			})
		}
	}
	return out
}

func ReadFile(path string) (Archive, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a := New()
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", path, err)
	}
	return a, nil
}

func (a Archive) WriteFile(path string) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
