// Package replay plays recorded vehicle tracks back in scaled wall-clock
// time and publishes interpolated positions on every tick.
package replay

import (
	"context"
	"log"
	"sync"
	"time"

	"bus-arrivals/internal/geo"
	"bus-arrivals/internal/interp"
	"bus-arrivals/internal/publisher"
)

type Publisher interface {
	PublishPosition(msg publisher.PositionMessage) error
}

// Metrics is optional; nil disables reporting.
type Metrics interface {
	TickObserve(d time.Duration)
	EntitiesLoaded(n int)
}

type Replayer struct {
	pub             Publisher
	publishInterval time.Duration
	speedMultiplier float64
	metrics         Metrics
	now             func() time.Time

	mu        sync.Mutex
	state     interp.AnimationState
	end       float64   // last keyframe time, ms
	hasEnd    bool      // at least one non-empty track is loaded
	anchor    float64   // telemetry time at wallStart, ms
	wallStart time.Time // wall clock when anchor was set
	last      map[string]interp.EntityPosition
	lastT     float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(pub Publisher, publishInterval time.Duration, speedMultiplier float64, m Metrics) *Replayer {
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	return &Replayer{
		pub:             pub,
		publishInterval: publishInterval,
		speedMultiplier: speedMultiplier,
		metrics:         m,
		now:             time.Now,
	}
}

// Load replaces the animation state wholesale and rewinds to its origin.
func (r *Replayer) Load(tracks interp.Tracks) {
	st := interp.NewAnimationState(tracks)
	_, end, ok := tracks.Span()

	r.mu.Lock()
	r.state = st
	r.end, r.hasEnd = end, ok
	r.anchor = st.Origin
	r.wallStart = r.now()
	r.last = nil
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.EntitiesLoaded(len(tracks))
	}
	log.Printf("replay loaded %d entities starting at %s", len(tracks), time.UnixMilli(int64(st.Origin)).UTC().Format(time.RFC3339))
}

// Seek moves playback to telemetry time t (epoch ms).
func (r *Replayer) Seek(t float64) {
	r.mu.Lock()
	r.anchor = t
	r.wallStart = r.now()
	r.last = nil
	r.mu.Unlock()
}

// Current returns the telemetry time being shown, clamped to the end of the
// loaded tracks.
func (r *Replayer) Current() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked()
}

func (r *Replayer) currentLocked() float64 {
	elapsed := float64(r.now().Sub(r.wallStart).Milliseconds()) * r.speedMultiplier
	t := r.anchor + elapsed
	if r.hasEnd && t > r.end {
		t = r.end
	}
	return t
}

// Snapshot returns every entity's position at telemetry time t.
func (r *Replayer) Snapshot(t float64) []interp.EntityPosition {
	r.mu.Lock()
	st := r.state
	r.mu.Unlock()
	return interp.PositionsAt(st, t)
}

func (r *Replayer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		tick := time.NewTicker(r.publishInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				start := time.Now()
				r.tick()
				if r.metrics != nil {
					r.metrics.TickObserve(time.Since(start))
				}
			}
		}
	}()
}

func (r *Replayer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// tick publishes the positions at the current playback time and returns how
// many were published.
func (r *Replayer) tick() int {
	r.mu.Lock()
	t := r.currentLocked()
	positions := interp.PositionsAt(r.state, t)
	prev, prevT := r.last, r.lastT
	r.last = make(map[string]interp.EntityPosition, len(positions))
	for _, p := range positions {
		r.last[p.EntityID] = p
	}
	r.lastT = t
	r.mu.Unlock()

	if r.pub == nil {
		return 0
	}
	ts := time.UnixMilli(int64(t)).UTC()
	sent := 0
	for _, p := range positions {
		msg := publisher.PositionMessage{EntityID: p.EntityID, Timestamp: ts, Lat: p.Lat, Lon: p.Lon}
		if q, ok := prev[p.EntityID]; ok {
			from, to := geo.Point{Lat: q.Lat, Lon: q.Lon}, geo.Point{Lat: p.Lat, Lon: p.Lon}
			if from != to {
				msg.Bearing = geo.Bearing(from, to)
			}
			if dt := (t - prevT) / 1000; dt > 0 {
				if d, err := geo.Haversine(from, to); err == nil {
					msg.SpeedMps = d / dt
				}
			}
		}
		if err := r.pub.PublishPosition(msg); err != nil {
			log.Printf("publish error for %s: %v", p.EntityID, err)
			continue
		}
		sent++
	}
	return sent
}
