package telemetry

import (
	"encoding/json"
	"fmt"
	"os"

	"bus-arrivals/internal/transit"
)

// RouteMeta is the route catalog entry: its directions with their stop ids,
// and the route's stops in running order.
type RouteMeta struct {
	ID         string `json:"id"`
	Directions []struct {
		ID    string   `json:"id"`
		Stops []string `json:"stops"`
	} `json:"directions"`
	Stops []struct {
		ID string `json:"id"`
	} `json:"stops"`
}

func LoadRouteMeta(path string) (RouteMeta, error) {
	var m RouteMeta
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode route meta %s: %w", path, err)
	}
	return m, nil
}

// ResolveStops attaches direction ids and ordinals to payload stops. Stops
// that belong to no direction are returned in missing instead. A stop not
// listed in the route's stop order gets ordinal -1.
func ResolveStops(positions []StopPosition, meta RouteMeta) (stops []transit.StopPoint, missing []string) {
	dirOf := make(map[string]string)
	for _, d := range meta.Directions {
		for _, sid := range d.Stops {
			dirOf[sid] = d.ID
		}
	}
	ordOf := make(map[string]int, len(meta.Stops))
	for i, s := range meta.Stops {
		ordOf[s.ID] = i
	}

	seen := make(map[string]bool)
	for _, p := range positions {
		if seen[p.StopID] {
			continue
		}
		seen[p.StopID] = true
		dir, ok := dirOf[p.StopID]
		if !ok {
			missing = append(missing, p.StopID)
			continue
		}
		ord, ok := ordOf[p.StopID]
		if !ok {
			ord = -1
		}
		stops = append(stops, transit.StopPoint{
			StopID:      p.StopID,
			Lat:         p.Lat,
			Lon:         p.Lon,
			DirectionID: dir,
			Ordinal:     ord,
		})
	}
	return stops, missing
}
