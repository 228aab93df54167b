// Package headway measures service regularity at a stop from its arrivals.
//
// With headways h1..hn, a passenger arriving at a random moment waits on
// average Σh²/(2Σh). Perfectly even service gives mean(h)/2; bunching pushes
// the experienced wait above that.
package headway

import (
	"math/rand"
	"sort"
	"time"

	"bus-arrivals/internal/transit"
)

// Key identifies one stop served in one direction of one route.
type Key struct {
	RouteID     string `json:"routeId"`
	StopID      string `json:"stopId"`
	DirectionID string `json:"directionId"`
}

type Summary struct {
	Key
	Arrivals        int           `json:"arrivals"`
	MeanHeadway     time.Duration `json:"meanHeadway"`
	MinHeadway      time.Duration `json:"minHeadway"`
	MaxHeadway      time.Duration `json:"maxHeadway"`
	ExpectedWait    time.Duration `json:"expectedWait"`
	ExperiencedWait time.Duration `json:"experiencedWait"`
	// BunchingRatio is ExperiencedWait / ExpectedWait; 1 means even service.
	BunchingRatio float64 `json:"bunchingRatio"`
}

// Headways returns the gaps between consecutive arrivals, after sorting.
func Headways(times []time.Time) []time.Duration {
	if len(times) < 2 {
		return nil
	}
	sorted := append([]time.Time(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	out := make([]time.Duration, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		out[i-1] = sorted[i].Sub(sorted[i-1])
	}
	return out
}

// Summarize computes headway statistics for a set of arrival times.
func Summarize(key Key, times []time.Time) Summary {
	s := Summary{Key: key, Arrivals: len(times)}
	hs := Headways(times)
	if len(hs) == 0 {
		return s
	}
	var sum, sumSq float64
	s.MinHeadway, s.MaxHeadway = hs[0], hs[0]
	for _, h := range hs {
		sec := h.Seconds()
		sum += sec
		sumSq += sec * sec
		if h < s.MinHeadway {
			s.MinHeadway = h
		}
		if h > s.MaxHeadway {
			s.MaxHeadway = h
		}
	}
	mean := sum / float64(len(hs))
	s.MeanHeadway = seconds(mean)
	s.ExpectedWait = seconds(mean / 2)
	if sum > 0 {
		experienced := sumSq / (2 * sum)
		s.ExperiencedWait = seconds(experienced)
		s.BunchingRatio = experienced / (mean / 2)
	}
	return s
}

// ByStop groups arrival events per route/stop/direction and summarises each
// group. Output is ordered by route, stop, then direction.
func ByStop(events []transit.ArrivalEvent) []Summary {
	groups := make(map[Key][]time.Time)
	for _, e := range events {
		k := Key{RouteID: e.RouteID, StopID: e.StopID, DirectionID: e.DirectionID}
		groups[k] = append(groups[k], e.Time())
	}
	keys := make([]Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RouteID != keys[j].RouteID {
			return keys[i].RouteID < keys[j].RouteID
		}
		if keys[i].StopID != keys[j].StopID {
			return keys[i].StopID < keys[j].StopID
		}
		return keys[i].DirectionID < keys[j].DirectionID
	})
	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		out = append(out, Summarize(k, groups[k]))
	}
	return out
}

// SimulateWaits draws n passengers uniformly over [first arrival, last
// arrival) and returns how long each waits for the next bus.
func SimulateWaits(times []time.Time, n int, seed int64) []time.Duration {
	if len(times) < 2 || n <= 0 {
		return nil
	}
	sorted := append([]time.Time(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	start := sorted[0]
	span := sorted[len(sorted)-1].Sub(start)
	if span <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	waits := make([]time.Duration, n)
	for i := range waits {
		p := start.Add(time.Duration(rng.Int63n(int64(span))))
		// next bus strictly after the passenger shows up
		j := sort.Search(len(sorted), func(k int) bool { return sorted[k].After(p) })
		waits[i] = sorted[j].Sub(p)
	}
	return waits
}

// MeanWait averages simulated waits.
func MeanWait(waits []time.Duration) time.Duration {
	if len(waits) == 0 {
		return 0
	}
	var total float64
	for _, w := range waits {
		total += w.Seconds()
	}
	return seconds(total / float64(len(waits)))
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
