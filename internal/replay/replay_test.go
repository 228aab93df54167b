package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-arrivals/internal/interp"
	"bus-arrivals/internal/publisher"
	"bus-arrivals/internal/transit"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publisher.PositionMessage
	fail string
}

func (f *fakePublisher) PublishPosition(msg publisher.PositionMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.EntityID == f.fail {
		return errors.New("boom")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testTracks() interp.Tracks {
	return interp.Tracks{
		"b": {{T: 1000, X: 0, Y: 0}, {T: 11000, X: 0.01, Y: 0}},
		"a": {{T: 5000, X: 1, Y: 1}},
	}
}

func newTestReplayer(pub Publisher, speed float64) (*Replayer, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := New(pub, time.Second, speed, nil)
	r.now = c.now
	return r, c
}

func TestLoadStartsAtOrigin(t *testing.T) {
	r, c := newTestReplayer(nil, 2)
	r.Load(testTracks())
	assert.Equal(t, 1000.0, r.Current())

	c.advance(2 * time.Second)
	assert.Equal(t, 5000.0, r.Current())

	c.advance(time.Hour)
	assert.Equal(t, 11000.0, r.Current(), "clamped to the last keyframe")
}

func TestCurrentClampsTracksBeforeEpoch(t *testing.T) {
	r, c := newTestReplayer(nil, 1)
	r.Load(interp.Tracks{"a": {{T: -5000, X: 1, Y: 1}, {T: 0, X: 2, Y: 2}}})
	assert.Equal(t, -5000.0, r.Current())

	c.advance(time.Minute)
	assert.Equal(t, 0.0, r.Current())
}

func TestLoadReplacesState(t *testing.T) {
	r, _ := newTestReplayer(nil, 1)
	r.Load(testTracks())
	r.Load(interp.Tracks{"z": {{T: 50, X: 3, Y: 4}}})

	snap := r.Snapshot(r.Current())
	require.Len(t, snap, 1)
	assert.Equal(t, interp.EntityPosition{EntityID: "z", Lon: 3, Lat: 4}, snap[0])
}

func TestSeekAndSnapshot(t *testing.T) {
	r, _ := newTestReplayer(nil, 1)
	r.Load(testTracks())
	r.Seek(6000)
	assert.Equal(t, 6000.0, r.Current())

	snap := r.Snapshot(6000)
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].EntityID)
	assert.Equal(t, 1.0, snap[0].Lon)
	assert.Equal(t, "b", snap[1].EntityID)
	assert.InDelta(t, 0.005, snap[1].Lon, 1e-12)
}

func TestTickPublishesWithSpeed(t *testing.T) {
	pub := &fakePublisher{}
	r, c := newTestReplayer(pub, 1)
	r.Load(testTracks())

	assert.Equal(t, 2, r.tick())
	c.advance(5 * time.Second)
	assert.Equal(t, 2, r.tick())

	require.Len(t, pub.msgs, 4)
	second := pub.msgs[3]
	assert.Equal(t, "b", second.EntityID)
	assert.Equal(t, time.UnixMilli(6000).UTC(), second.Timestamp)
	// 0.005 degrees of longitude on the equator in 5 s
	assert.InDelta(t, 111.2, second.SpeedMps, 0.5)
	assert.InDelta(t, 90, second.Bearing, 1e-6)
	assert.Zero(t, pub.msgs[2].SpeedMps, "entity a is clamped in place")
}

func TestTickSkipsFailedPublish(t *testing.T) {
	pub := &fakePublisher{fail: "a"}
	r, _ := newTestReplayer(pub, 1)
	r.Load(testTracks())
	assert.Equal(t, 1, r.tick())
}

func TestStartStop(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, 5*time.Millisecond, 1, nil)
	r.Load(interp.Tracks{"a": {transit.Keyframe{T: 0, X: 1, Y: 2}}})

	r.Start(context.Background())
	assert.Eventually(t, func() bool { return pub.count() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()

	n := pub.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, pub.count())
}
