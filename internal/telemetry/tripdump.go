package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"bus-arrivals/internal/transit"
)

// A trip dump is a Python dict literal written one trip per line:
//
//	{('1401', '14', '14___O_F00', '1542038400000'): [{'time': '1542038401000', 'lat': 37.77, 'lon': -122.42, 'heading': 90}, ...],
//	 ('1402', ...): [...]}
//
// The key is (vehicle_id, route, pattern, start_time); the pattern is used as
// the direction id.

type tripPoint struct {
	Time    flexString `json:"time"`
	Lat     flexFloat  `json:"lat"`
	Lon     flexFloat  `json:"lon"`
	Heading flexFloat  `json:"heading"`
}

func isTripDump(b []byte) bool {
	return bytes.HasPrefix(b, []byte("{(")) || bytes.HasPrefix(b, []byte("("))
}

// decodeTripDump groups the trips of a dump by route. Points whose time has
// no digits are counted in DroppedStates.
func decodeTripDump(b []byte) ([]RoutePayload, error) {
	byRoute := make(map[string]*RoutePayload)
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == "{}" {
			continue
		}
		split := strings.Index(line, "):")
		if split < 0 {
			return nil, fmt.Errorf("trip dump line %d: missing trip key", lineNo)
		}
		key := strings.Split(strings.TrimLeft(line[:split], "{( "), ",")
		if len(key) != 4 {
			return nil, fmt.Errorf("trip dump line %d: want 4 key fields, got %d", lineNo, len(key))
		}
		for i := range key {
			key[i] = strings.Trim(strings.TrimSpace(key[i]), `'"`)
		}
		vehicleID, routeID, pattern := digitsOnly(key[0]), key[1], key[2]

		body := strings.TrimSpace(line[split+2:])
		body = strings.TrimRight(body, ",}")
		var points []tripPoint
		if err := json.Unmarshal([]byte(strings.ReplaceAll(body, "'", `"`)), &points); err != nil {
			return nil, fmt.Errorf("trip dump line %d: %w", lineNo, err)
		}

		p := byRoute[routeID]
		if p == nil {
			p = &RoutePayload{RouteID: routeID}
			byRoute[routeID] = p
		}
		for _, pt := range points {
			ms, err := strconv.ParseInt(digitsOnly(string(pt.Time)), 10, 64)
			if err != nil {
				p.DroppedStates++
				continue
			}
			p.Samples = append(p.Samples, transit.Sample{
				TimeMs:      ms,
				VehicleID:   vehicleID,
				Lat:         float64(pt.Lat),
				Lon:         float64(pt.Lon),
				DirectionID: pattern,
			})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(byRoute))
	for id := range byRoute {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]RoutePayload, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byRoute[id])
	}
	return out, nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
