// Package flight sequences a mission from arming to disarming. Transitions
// are gated on observed telemetry and described by a table keyed by the
// current state and the kind of event that arrived.
package flight

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tiiuae/motionplanning/internal/planning"
	"github.com/tiiuae/motionplanning/internal/types"
)

const (
	takeoffFraction  = 0.95
	waypointRadius   = 1.0
	landingSpeed     = 1.0
	groundClearance  = 0.1
	groundedPosition = 0.01
)

// PathPlanner computes the waypoints flown between takeoff and landing.
type PathPlanner interface {
	Plan(start, goal types.GlobalPosition) (*planning.Plan, error)
	Home() types.GlobalPosition
	TargetAltitude() float64
}

type guardFn func(m *Mission) bool

type actionFn func(mc *Machine) ([]types.Message, error)

type transitionKey struct {
	state FlightState
	event eventKind
}

type transition struct {
	guard  guardFn
	action actionFn
	next   FlightState
}

// transitions lists the rows of the flight table. Rows sharing a key are
// tried in order and the first passing guard wins.
var transitions = map[transitionKey][]transition{
	{Manual, statusEvent}: {
		{inMission, armAndTakeControl, Arming},
	},
	{Arming, statusEvent}: {
		{armed, planMission, Planning},
	},
	{Planning, statusEvent}: {
		{always, takeOff, TakeOff},
	},
	{TakeOff, positionEvent}: {
		{and(altitudeReached, queueNotEmpty), gotoNext, Waypoint},
		{and(altitudeReached, queueEmpty), land, Landing},
	},
	{Waypoint, positionEvent}: {
		{and(targetReached, queueNotEmpty), gotoNext, Waypoint},
		{and(targetReached, queueEmpty, slowEnough), land, Landing},
	},
	{Landing, velocityEvent}: {
		{onGround, disarmAndRelease, Disarming},
	},
	{Disarming, statusEvent}: {
		{disarmedAndReleased, stop, Manual},
	},
}

func always(*Mission) bool { return true }

func inMission(m *Mission) bool { return m.InMission }

func armed(m *Mission) bool { return m.Armed }

func queueEmpty(m *Mission) bool { return len(m.Queue) == 0 }

func queueNotEmpty(m *Mission) bool { return len(m.Queue) > 0 }

func altitudeReached(m *Mission) bool {
	return m.altitude() >= takeoffFraction*m.Target.Altitude
}

func targetReached(m *Mission) bool {
	return m.horizontalDistance() < waypointRadius
}

func slowEnough(m *Mission) bool {
	return m.horizontalSpeed() < landingSpeed
}

func onGround(m *Mission) bool {
	return m.heightAboveHome() < groundClearance && math.Abs(m.LocalPosition.Down) < groundedPosition
}

func disarmedAndReleased(m *Mission) bool {
	return !m.Armed && !m.Guided
}

func and(guards ...guardFn) guardFn {
	return func(m *Mission) bool {
		for _, g := range guards {
			if !g(m) {
				return false
			}
		}
		return true
	}
}

func armAndTakeControl(mc *Machine) ([]types.Message, error) {
	return []types.Message{
		command("arm", types.Arm{}),
		command("take-control", types.TakeControl{}),
	}, nil
}

func planMission(mc *Machine) ([]types.Message, error) {
	home := mc.planner.Home()
	start := mc.mission.GlobalPosition
	if start == (types.GlobalPosition{}) {
		start = home
	}

	plan, err := mc.planner.Plan(start, mc.goal)
	if err != nil {
		return nil, errors.WithMessage(err, "plan mission")
	}

	mc.mission.Queue = append([]types.Waypoint(nil), plan.Waypoints...)
	mc.mission.Target = types.Waypoint{
		North:    mc.mission.LocalPosition.North,
		East:     mc.mission.LocalPosition.East,
		Altitude: mc.planner.TargetAltitude(),
	}
	mc.plan = plan
	// the landing guard measures against the commanded home until the
	// vehicle reports its own
	if !mc.mission.homeReported {
		mc.mission.GlobalHome = home
	}

	return []types.Message{
		command("set-home", types.SetHome{Position: home}),
		command("send-waypoints", types.SendWaypoints{Waypoints: plan.Waypoints}),
	}, nil
}

func takeOff(mc *Machine) ([]types.Message, error) {
	return []types.Message{command("takeoff", types.TakeOff{Altitude: mc.mission.Target.Altitude})}, nil
}

func gotoNext(mc *Machine) ([]types.Message, error) {
	target := mc.mission.pop()
	return []types.Message{command("goto-position", types.GotoPosition{Target: target})}, nil
}

func land(mc *Machine) ([]types.Message, error) {
	return []types.Message{command("land", types.Land{})}, nil
}

func disarmAndRelease(mc *Machine) ([]types.Message, error) {
	return []types.Message{
		command("disarm", types.Disarm{}),
		command("release-control", types.ReleaseControl{}),
	}, nil
}

func stop(mc *Machine) ([]types.Message, error) {
	mc.mission.InMission = false
	return []types.Message{
		command("stop", types.Stop{}),
		types.CreateMessage("mission-completed", "flight", "*", types.MissionCompleted{}),
	}, nil
}

func command(messageType string, cmd interface{}) types.Message {
	return types.CreateMessage(messageType, "flight", "vehicle", cmd)
}

// Machine runs the flight table over a Mission.
type Machine struct {
	mission *Mission
	planner PathPlanner
	goal    types.GlobalPosition
	plan    *planning.Plan
}

// NewMachine creates a machine in MANUAL with the mission flag set.
func NewMachine(planner PathPlanner, goal types.GlobalPosition) *Machine {
	return &Machine{
		mission: &Mission{State: Manual, InMission: true},
		planner: planner,
		goal:    goal,
	}
}

func (mc *Machine) State() FlightState {
	return mc.mission.State
}

func (mc *Machine) Mission() *Mission {
	return mc.mission
}

// Plan is the plan computed on leaving ARMING, nil before that.
func (mc *Machine) Plan() *planning.Plan {
	return mc.plan
}

// Handle applies one telemetry message. It returns the messages to post,
// beginning with a FlightStateChanged when a transition was taken. The state
// has already advanced when Handle returns, so the same event arriving again
// is evaluated against the new state and cannot repeat the action.
func (mc *Machine) Handle(msg interface{}) ([]types.Message, error) {
	kind := mc.mission.observe(msg)
	if kind == noEvent {
		return nil, nil
	}

	from := mc.mission.State
	for _, t := range transitions[transitionKey{from, kind}] {
		if !t.guard(mc.mission) {
			continue
		}

		out, err := t.action(mc)
		if err != nil {
			return nil, err
		}
		mc.mission.State = t.next

		logrus.WithFields(logrus.Fields{
			"from":  from,
			"to":    t.next,
			"event": kind,
		}).Info("Flight state changed")

		changed := types.CreateMessage("flight-state", "flight", "*",
			types.FlightStateChanged{From: from.String(), To: t.next.String()})
		return append([]types.Message{changed}, out...), nil
	}

	return nil, nil
}
