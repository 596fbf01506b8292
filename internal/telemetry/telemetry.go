// Package telemetry publishes vehicle and mission state to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tiiuae/motionplanning/internal/types"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type telemetry struct {
	Timestamp int64
	MessageID string

	LocationUpdated  bool
	Lat              float64
	Lon              float64
	AltitudeFromHome float64
	DistanceFromHome float64

	StateUpdated bool
	Armed        bool
	Guided       bool
	FlightState  string
}

type flightPlan struct {
	MessageID string
	Home      types.GlobalPosition
	Waypoints [][4]float64
}

type uplink struct {
	publisher Publisher
	deviceID  string
	interval  time.Duration

	mu      sync.Mutex
	sent    bool
	current telemetry
	home    types.GlobalPosition
}

// NewUplink returns a bus handler that sends a telemetry snapshot whenever
// it changed, at most once per interval.
func NewUplink(publisher Publisher, deviceID string, interval time.Duration) types.MessageHandler {
	return &uplink{publisher: publisher, deviceID: deviceID, interval: interval, sent: true}
}

func (u *uplink) topic(event string) string {
	return fmt.Sprintf("/devices/%s/events/%s", u.deviceID, event)
}

func (u *uplink) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		u.startSendingTelemetry(ctx)
	}()
}

func (u *uplink) Receive(message types.Message) {
	switch m := message.Message.(type) {
	case types.GlobalPositionUpdate:
		u.update(func(t *telemetry) {
			t.Lat = m.Position.Lat
			t.Lon = m.Position.Lon
			t.LocationUpdated = true
		})
	case types.GlobalHome:
		u.mu.Lock()
		u.home = m.Position
		u.mu.Unlock()
	case types.LocalPosition:
		u.update(func(t *telemetry) {
			t.AltitudeFromHome = -m.Position.Down
			t.DistanceFromHome = math.Hypot(m.Position.North, m.Position.East)
		})
	case types.VehicleStatus:
		u.update(func(t *telemetry) {
			t.Armed = m.Armed
			t.Guided = m.Guided
			t.StateUpdated = true
		})
	case types.FlightStateChanged:
		u.update(func(t *telemetry) {
			t.FlightState = m.To
			t.StateUpdated = true
		})
		u.publishJSON("flight-state", m)
	case types.SendWaypoints:
		plan := flightPlan{MessageID: uuid.New().String(), Waypoints: make([][4]float64, len(m.Waypoints))}
		for i, w := range m.Waypoints {
			plan.Waypoints[i] = w.Tuple()
		}
		u.mu.Lock()
		plan.Home = u.home
		u.mu.Unlock()
		u.publishJSON("flight-plan", plan)
	case types.MissionAborted:
		u.publishJSON("mission-aborted", map[string]string{"error": fmt.Sprint(m.Err)})
	case types.MissionCompleted:
		u.publishJSON("mission-completed", m)
	}
}

func (u *uplink) update(fn func(t *telemetry)) {
	u.mu.Lock()
	fn(&u.current)
	u.sent = false
	u.mu.Unlock()
}

// flush publishes the snapshot if anything changed since the last one.
func (u *uplink) flush() {
	u.mu.Lock()
	if u.sent {
		// there's no new data to send
		u.mu.Unlock()
		return
	}
	u.current.Timestamp = time.Now().UnixNano() / 1000
	u.current.MessageID = uuid.New().String()
	b, err := json.Marshal(u.current)
	u.sent = true
	u.current.LocationUpdated = false
	u.current.StateUpdated = false
	u.mu.Unlock()

	if err != nil {
		logrus.WithError(err).Error("Could not marshal telemetry")
		return
	}
	u.publish("telemetry", b)
}

func (u *uplink) startSendingTelemetry(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			u.flush()
		case <-ctx.Done():
			u.flush()
			return
		}
	}
}

func (u *uplink) publishJSON(event string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("Could not marshal event")
		return
	}
	u.publish(event, b)
}

func (u *uplink) publish(event string, payload []byte) {
	if err := u.publisher.Publish(u.topic(event), payload); err != nil {
		logrus.WithError(err).WithField("topic", u.topic(event)).Warn("Publish failed")
	}
}
