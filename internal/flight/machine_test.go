package flight

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/motionplanning/internal/planning"
	"github.com/tiiuae/motionplanning/internal/types"
)

var testHome = types.GlobalPosition{Lon: -122.397450, Lat: 37.792480}

var testGoal = types.GlobalPosition{Lon: -122.395989, Lat: 37.795227}

type fakePlanner struct {
	waypoints []types.Waypoint
	err       error
	calls     int
	start     types.GlobalPosition
	goal      types.GlobalPosition
	home      types.GlobalPosition
}

func (p *fakePlanner) Plan(start, goal types.GlobalPosition) (*planning.Plan, error) {
	p.calls++
	p.start, p.goal = start, goal
	if p.err != nil {
		return nil, p.err
	}
	return &planning.Plan{Home: testHome, Waypoints: p.waypoints}, nil
}

func (p *fakePlanner) Home() types.GlobalPosition {
	if p.home != (types.GlobalPosition{}) {
		return p.home
	}
	return testHome
}

func (p *fakePlanner) TargetAltitude() float64 { return 5 }

func threeWaypoints() *fakePlanner {
	return &fakePlanner{waypoints: []types.Waypoint{
		{North: 0, East: 0, Altitude: 5},
		{North: 10, East: 0, Altitude: 5},
		{North: 10, East: 10, Altitude: 5},
	}}
}

func status(armed, guided bool) types.VehicleStatus {
	return types.VehicleStatus{Armed: armed, Guided: guided}
}

func position(north, east, down float64) types.LocalPosition {
	return types.LocalPosition{Position: types.NED{North: north, East: east, Down: down}}
}

func velocity(north, east, down float64) types.LocalVelocity {
	return types.LocalVelocity{Velocity: types.NED{North: north, East: east, Down: down}}
}

func feed(t *testing.T, mc *Machine, events ...interface{}) []types.Message {
	t.Helper()
	var out []types.Message
	for _, e := range events {
		msgs, err := mc.Handle(e)
		if err != nil {
			t.Fatalf("event %T: %v", e, err)
		}
		out = append(out, msgs...)
	}
	return out
}

func TestLandingWithoutReportedHome(t *testing.T) {
	home := types.GlobalPosition{Lon: testHome.Lon, Lat: testHome.Lat, Alt: 12}
	planner := &fakePlanner{home: home, waypoints: []types.Waypoint{{North: 0, East: 0, Altitude: 5}}}
	mc := NewMachine(planner, testGoal)

	feed(t, mc,
		status(false, false),
		status(true, true),
		status(true, true),
		position(0, 0, -5),
		position(0, 0, -5),
	)
	if mc.State() != Landing {
		t.Fatalf("state %v", mc.State())
	}
	if mc.Mission().GlobalHome != home {
		t.Errorf("home %v", mc.Mission().GlobalHome)
	}

	feed(t, mc,
		types.GlobalPositionUpdate{Position: types.GlobalPosition{Lon: home.Lon, Lat: home.Lat, Alt: 12.05}},
		position(0, 0, -0.005),
		velocity(0, 0, 0),
	)
	if mc.State() != Disarming {
		t.Errorf("state %v", mc.State())
	}
}

func TestReportedHomeIsKept(t *testing.T) {
	reported := types.GlobalPosition{Lon: testHome.Lon, Lat: testHome.Lat, Alt: 3}
	mc := NewMachine(threeWaypoints(), testGoal)
	feed(t, mc,
		types.GlobalHome{Position: reported},
		status(false, false),
		status(true, true),
	)
	if mc.State() != Planning || mc.Mission().GlobalHome != reported {
		t.Errorf("state %v home %v", mc.State(), mc.Mission().GlobalHome)
	}
}

func TestFullMission(t *testing.T) {
	planner := threeWaypoints()
	mc := NewMachine(planner, testGoal)

	out := feed(t, mc,
		status(false, false),
		status(false, true),
		status(true, true),
		status(true, true),
		status(true, true),
		position(0, 0, -2),
		position(0, 0, -4.8),
		position(0, 0, -4.8),
		position(0, 0, -5),
		position(5, 0, -5),
		position(9.5, 0, -5),
		velocity(2, 0, 0),
		position(10, 9.5, -5),
		position(10, 9.5, -5),
		velocity(0.1, 0, 0),
		position(10, 9.5, -5),
		position(10, 9.5, -5),
		velocity(0, 0, 1),
		types.GlobalHome{Position: testHome},
		types.GlobalPositionUpdate{Position: types.GlobalPosition{Lon: testHome.Lon, Lat: testHome.Lat, Alt: 0.05}},
		position(10, 9.5, -0.005),
		velocity(0, 0, 0),
		velocity(0, 0, 0),
		status(true, false),
		status(false, true),
		status(false, false),
		status(false, false),
	)

	var transitions []types.FlightStateChanged
	counts := map[string]int{}
	var gotos []types.Waypoint
	for _, m := range out {
		counts[m.MessageType]++
		switch p := m.Message.(type) {
		case types.FlightStateChanged:
			transitions = append(transitions, p)
		case types.GotoPosition:
			gotos = append(gotos, p.Target)
		case types.TakeOff:
			if p.Altitude != 5 {
				t.Errorf("takeoff to %v", p.Altitude)
			}
		case types.SetHome:
			if p.Position != testHome {
				t.Errorf("home set to %v", p.Position)
			}
		}
	}

	want := []types.FlightStateChanged{
		{From: "MANUAL", To: "ARMING"},
		{From: "ARMING", To: "PLANNING"},
		{From: "PLANNING", To: "TAKEOFF"},
		{From: "TAKEOFF", To: "WAYPOINT"},
		{From: "WAYPOINT", To: "WAYPOINT"},
		{From: "WAYPOINT", To: "WAYPOINT"},
		{From: "WAYPOINT", To: "LANDING"},
		{From: "LANDING", To: "DISARMING"},
		{From: "DISARMING", To: "MANUAL"},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: %v, want %v", i, transitions[i], want[i])
		}
	}

	for _, typ := range []string{"arm", "take-control", "set-home", "send-waypoints", "takeoff", "land", "disarm", "release-control", "stop", "mission-completed"} {
		if counts[typ] != 1 {
			t.Errorf("%s sent %d times", typ, counts[typ])
		}
	}
	if len(gotos) != 3 || gotos[0] != planner.waypoints[0] || gotos[1] != planner.waypoints[1] || gotos[2] != planner.waypoints[2] {
		t.Errorf("gotos %v", gotos)
	}

	if planner.calls != 1 || planner.start != testHome || planner.goal != testGoal {
		t.Errorf("planner called %d times from %v to %v", planner.calls, planner.start, planner.goal)
	}
	if mc.State() != Manual || mc.Mission().InMission {
		t.Errorf("finished in %v, in mission %v", mc.State(), mc.Mission().InMission)
	}
	if mc.Plan() == nil || len(mc.Mission().Queue) != 0 {
		t.Errorf("plan %v queue %v", mc.Plan(), mc.Mission().Queue)
	}
}

func TestEmptyPlanLandsAfterTakeoff(t *testing.T) {
	mc := NewMachine(&fakePlanner{}, testGoal)
	feed(t, mc, status(false, false), status(true, true), status(true, true))
	if mc.State() != TakeOff {
		t.Fatalf("state %v", mc.State())
	}
	out := feed(t, mc, position(0, 0, -5))
	if mc.State() != Landing || len(out) != 2 || out[1].MessageType != "land" {
		t.Errorf("state %v, out %v", mc.State(), out)
	}
}

func TestPlanStartsFromGlobalPosition(t *testing.T) {
	planner := threeWaypoints()
	mc := NewMachine(planner, testGoal)
	current := types.GlobalPosition{Lon: testHome.Lon + 0.0001, Lat: testHome.Lat, Alt: 0.2}
	feed(t, mc,
		types.GlobalPositionUpdate{Position: current},
		position(3, 4, 0),
		status(false, false),
		status(true, true),
	)
	if planner.start != current {
		t.Errorf("planned from %v", planner.start)
	}
	target := mc.Mission().Target
	if target.North != 3 || target.East != 4 || target.Altitude != 5 {
		t.Errorf("takeoff target %v", target)
	}
}

func TestIgnoredEvents(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup []interface{}
		event interface{}
	}{
		{"manual position", nil, position(0, 0, -5)},
		{"manual velocity", nil, velocity(0, 0, 0)},
		{"arming not armed", []interface{}{status(false, false)}, status(false, true)},
		{"arming position", []interface{}{status(false, false)}, position(0, 0, -5)},
		{"takeoff status", []interface{}{status(false, false), status(true, true), status(true, true)}, status(true, true)},
		{"takeoff low", []interface{}{status(false, false), status(true, true), status(true, true)}, position(0, 0, -4.7)},
		{"takeoff velocity", []interface{}{status(false, false), status(true, true), status(true, true)}, velocity(0, 0, 0)},
		{"global position", nil, types.GlobalPositionUpdate{Position: testHome}},
		{"home", nil, types.GlobalHome{Position: testHome}},
		{"command", nil, types.Arm{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mc := NewMachine(threeWaypoints(), testGoal)
			feed(t, mc, tc.setup...)
			before := mc.State()
			out, err := mc.Handle(tc.event)
			if err != nil || len(out) != 0 || mc.State() != before {
				t.Errorf("event changed %v -> %v, out %v, err %v", before, mc.State(), out, err)
			}
		})
	}
}

func TestNotInMission(t *testing.T) {
	mc := NewMachine(threeWaypoints(), testGoal)
	mc.Mission().InMission = false
	if out := feed(t, mc, status(false, false)); len(out) != 0 || mc.State() != Manual {
		t.Errorf("left MANUAL without a mission: %v", out)
	}
}

func TestPlanningFailure(t *testing.T) {
	planner := &fakePlanner{err: errors.WithMessage(planning.ErrNoPath, "goal enclosed")}
	mc := NewMachine(planner, testGoal)
	feed(t, mc, status(false, false))

	out, err := mc.Handle(status(true, true))
	if !errors.Is(err, planning.ErrPlanningInfeasible) {
		t.Fatalf("expected ErrPlanningInfeasible, got %v", err)
	}
	if len(out) != 0 || mc.State() != Arming {
		t.Errorf("state %v, out %v", mc.State(), out)
	}
}

func TestStateString(t *testing.T) {
	if Waypoint.String() != "WAYPOINT" || FlightState(42).String() != "UNKNOWN" {
		t.Error("bad state names")
	}
}

func TestHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	posted := make(chan types.Message, 10)
	handler := New(NewMachine(threeWaypoints(), testGoal))
	var wg sync.WaitGroup
	handler.Run(ctx, &wg, func(msg types.Message) { posted <- msg })

	handler.Receive(types.CreateMessage("arm", "flight", "vehicle", types.Arm{}))
	handler.Receive(types.CreateMessage("vehicle-status", "vehicle", "*", status(false, false)))

	for _, want := range []string{"flight-state", "arm", "take-control"} {
		select {
		case m := <-posted:
			if m.MessageType != want {
				t.Errorf("posted %s, want %s", m.MessageType, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}

	cancel()
	wg.Wait()
}

func TestHandlerAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	posted := make(chan types.Message, 10)
	handler := New(NewMachine(&fakePlanner{err: planning.ErrStartIsGoal}, testGoal))
	var wg sync.WaitGroup
	handler.Run(ctx, &wg, func(msg types.Message) { posted <- msg })

	handler.Receive(types.CreateMessage("vehicle-status", "vehicle", "*", status(false, false)))
	handler.Receive(types.CreateMessage("vehicle-status", "vehicle", "*", status(true, true)))

	timeout := time.After(time.Second)
	for {
		select {
		case m := <-posted:
			if aborted, ok := m.Message.(types.MissionAborted); ok {
				if !errors.Is(aborted.Err, planning.ErrPlanningInfeasible) {
					t.Errorf("aborted with %v", aborted.Err)
				}
				wg.Wait()
				return
			}
		case <-timeout:
			t.Fatal("no abort posted")
		}
	}
}
