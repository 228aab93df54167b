// Package telemetry decodes archived route-state payloads and route metadata
// into stops and samples.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"bus-arrivals/internal/transit"
)

// flexFloat accepts a JSON number or a numeric string. Anything else decodes
// to NaN so downstream validation can reject it.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = flexFloat(math.NaN())
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	*f = flexString(s)
	return nil
}

type stopJSON struct {
	SID flexString `json:"sid"`
	Lat flexFloat  `json:"lat"`
	Lon flexFloat  `json:"lon"`
}

type vehicleJSON struct {
	VID flexString `json:"vid"`
	Lat flexFloat  `json:"lat"`
	Lon flexFloat  `json:"lon"`
	DID flexString `json:"did"`
}

type routeStateJSON struct {
	VTime    flexString    `json:"vtime"`
	Vehicles []vehicleJSON `json:"vehicles"`
}

type routeJSON struct {
	RouteID     flexString       `json:"routeId"`
	Stops       []stopJSON       `json:"stops"`
	RouteStates []routeStateJSON `json:"routeStates"`
}

type envelope struct {
	Data struct {
		TrynState struct {
			Agency string      `json:"agency"`
			Routes []routeJSON `json:"routes"`
		} `json:"trynState"`
	} `json:"data"`
}

// StopPosition is a stop as reported in the route-state payload, before
// direction and ordinal are resolved.
type StopPosition struct {
	StopID string
	Lat    float64
	Lon    float64
}

// RoutePayload is one decoded route.
type RoutePayload struct {
	RouteID string
	Stops   []StopPosition
	Samples []transit.Sample
	// DroppedStates counts route states whose timestamp could not be parsed.
	DroppedStates int
}

// Decode reads the full query response envelope, a bare array of routes or
// a line-oriented trip dump.
func Decode(r io.Reader) ([]RoutePayload, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(b)
	if isTripDump(trimmed) {
		return decodeTripDump(trimmed)
	}
	var routes []routeJSON
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &routes); err != nil {
			return nil, fmt.Errorf("decode routes: %w", err)
		}
	} else {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode route state envelope: %w", err)
		}
		routes = env.Data.TrynState.Routes
	}

	out := make([]RoutePayload, 0, len(routes))
	for _, rj := range routes {
		out = append(out, convert(rj))
	}
	return out, nil
}

func convert(rj routeJSON) RoutePayload {
	p := RoutePayload{RouteID: string(rj.RouteID)}
	for _, s := range rj.Stops {
		p.Stops = append(p.Stops, StopPosition{StopID: string(s.SID), Lat: float64(s.Lat), Lon: float64(s.Lon)})
	}
	for _, st := range rj.RouteStates {
		ms, err := strconv.ParseInt(strings.TrimSpace(string(st.VTime)), 10, 64)
		if err != nil {
			p.DroppedStates++
			continue
		}
		for _, v := range st.Vehicles {
			p.Samples = append(p.Samples, transit.Sample{
				TimeMs:      ms,
				VehicleID:   string(v.VID),
				Lat:         float64(v.Lat),
				Lon:         float64(v.Lon),
				DirectionID: string(v.DID),
			})
		}
	}
	return p
}

// LoadFile decodes a payload file. routeID is applied to routes that do not
// carry their own id.
func LoadFile(path, routeID string) ([]RoutePayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	routes, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range routes {
		if routes[i].RouteID == "" {
			routes[i].RouteID = routeID
		}
	}
	return routes, nil
}
