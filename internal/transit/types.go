package transit

import "time"

// Keyframe is one observed position of a moving entity. T is in the same
// unit for every keyframe of a track (epoch milliseconds for telemetry).
type Keyframe struct {
	T float64
	X float64 // longitude for telemetry tracks
	Y float64 // latitude for telemetry tracks
}

// Sample is one raw telemetry ping.
type Sample struct {
	TimeMs      int64   `json:"time"`
	VehicleID   string  `json:"vehicleId"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DirectionID string  `json:"directionId,omitempty"`
}

func (s Sample) Time() time.Time { return time.UnixMilli(s.TimeMs) }

type StopPoint struct {
	StopID      string  `json:"stopId"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DirectionID string  `json:"directionId"`
	Ordinal     int     `json:"ordinal"`
}

// ArrivalEvent is the moment of closest approach of a vehicle to a stop
// within one visit session.
type ArrivalEvent struct {
	VehicleID   string  `json:"vehicleId"`
	TimeMs      int64   `json:"time"`
	StopID      string  `json:"stopId"`
	DirectionID string  `json:"directionId"`
	RouteID     string  `json:"routeId"`
	Distance    float64 `json:"distance"` // meters
}

func (a ArrivalEvent) Time() time.Time { return time.UnixMilli(a.TimeMs) }

// RouteData is everything the extractor needs for one route.
type RouteData struct {
	RouteID string
	Stops   []StopPoint
	Samples []Sample
}
