package flight

import (
	"math"

	"github.com/tiiuae/motionplanning/internal/types"
)

type FlightState int

const (
	Manual FlightState = iota
	Arming
	Planning
	TakeOff
	Waypoint
	Landing
	Disarming
)

var stateNames = [...]string{"MANUAL", "ARMING", "PLANNING", "TAKEOFF", "WAYPOINT", "LANDING", "DISARMING"}

func (s FlightState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

type eventKind int

const (
	noEvent eventKind = iota
	statusEvent
	positionEvent
	velocityEvent
)

func (k eventKind) String() string {
	switch k {
	case statusEvent:
		return "status"
	case positionEvent:
		return "local-position"
	case velocityEvent:
		return "velocity"
	}
	return "none"
}

// Mission is the context of a single mission. It is owned by one Machine and
// only touched from the goroutine processing its events.
type Mission struct {
	State     FlightState
	Target    types.Waypoint
	Queue     []types.Waypoint
	InMission bool

	LocalPosition  types.NED
	LocalVelocity  types.NED
	GlobalPosition types.GlobalPosition
	GlobalHome     types.GlobalPosition
	Armed          bool
	Guided         bool

	// homeReported is set once the vehicle has sent its home position.
	homeReported bool
}

// observe folds a telemetry message into the snapshot and reports which
// event, if any, it represents.
func (m *Mission) observe(msg interface{}) eventKind {
	switch t := msg.(type) {
	case types.VehicleStatus:
		m.Armed = t.Armed
		m.Guided = t.Guided
		return statusEvent
	case types.LocalPosition:
		m.LocalPosition = t.Position
		return positionEvent
	case types.LocalVelocity:
		m.LocalVelocity = t.Velocity
		return velocityEvent
	case types.GlobalPositionUpdate:
		m.GlobalPosition = t.Position
	case types.GlobalHome:
		m.GlobalHome = t.Position
		m.homeReported = true
	}
	return noEvent
}

// pop removes the head of the waypoint queue and makes it the target.
func (m *Mission) pop() types.Waypoint {
	m.Target = m.Queue[0]
	m.Queue = m.Queue[1:]
	return m.Target
}

// altitude above the local origin, positive up.
func (m *Mission) altitude() float64 {
	return -m.LocalPosition.Down
}

func (m *Mission) horizontalDistance() float64 {
	return math.Hypot(m.Target.North-m.LocalPosition.North, m.Target.East-m.LocalPosition.East)
}

func (m *Mission) horizontalSpeed() float64 {
	return math.Hypot(m.LocalVelocity.North, m.LocalVelocity.East)
}

func (m *Mission) heightAboveHome() float64 {
	return m.GlobalPosition.Alt - m.GlobalHome.Alt
}
