package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bus-arrivals/internal/transit"
)

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc          conn
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-arrivals"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// ArrivalMessage is published on arrivals.<route>.<stop>.
type ArrivalMessage struct {
	RouteID     string    `json:"routeId"`
	StopID      string    `json:"stopId"`
	DirectionID string    `json:"directionId"`
	VehicleID   string    `json:"vehicleId"`
	Timestamp   time.Time `json:"timestamp"`
	DistanceM   float64   `json:"distanceM"`
}

func (p *NATSPublisher) PublishArrival(ev transit.ArrivalEvent) error {
	subject := fmt.Sprintf("arrivals.%s.%s", subjectToken(ev.RouteID), subjectToken(ev.StopID))
	return p.publish(subject, ArrivalMessage{
		RouteID:     ev.RouteID,
		StopID:      ev.StopID,
		DirectionID: ev.DirectionID,
		VehicleID:   ev.VehicleID,
		Timestamp:   ev.Time().UTC(),
		DistanceM:   ev.Distance,
	})
}

// PositionMessage is published on positions.<entity> for every replay tick.
type PositionMessage struct {
	EntityID  string    `json:"entityId"`
	Timestamp time.Time `json:"timestamp"` // telemetry time being replayed
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Bearing   float64   `json:"bearing"`
	SpeedMps  float64   `json:"speedMps"`
}

func (p *NATSPublisher) PublishPosition(msg PositionMessage) error {
	return p.publish("positions."+subjectToken(msg.EntityID), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
