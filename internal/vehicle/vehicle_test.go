package vehicle

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"
	"github.com/tiiuae/motionplanning/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

const waitTimeout = 5 * time.Second

// mavlinkV2Magic starts every MAVLink v2 frame.
const mavlinkV2Magic = 0xFD

// tapConn records what the link writes. With rejectRaw set, writes that are
// not MAVLink frames fail.
type tapConn struct {
	net.Conn
	mu        sync.Mutex
	writes    [][]byte
	rejectRaw bool
}

func (c *tapConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.rejectRaw && len(p) > 0 && p[0] != mavlinkV2Magic {
		c.mu.Unlock()
		return 0, errors.New("broken pipe")
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	c.mu.Unlock()
	return c.Conn.Write(p)
}

func (c *tapConn) recorded() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *tapConn) setRejectRaw(reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectRaw = reject
}

type testLink struct {
	link   *Link
	tap    *tapConn
	peer   *gomavlib.Node
	posted chan types.Message
	wg     sync.WaitGroup
	once   sync.Once
}

// startLink connects a link to a simulated vehicle with system id 7.
func startLink(t *testing.T) *testLink {
	t.Helper()
	local, remote := net.Pipe()

	peer, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointCustom{ReadWriteCloser: remote},
		},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      7,
		HeartbeatDisable: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	tl := &testLink{
		tap:    &tapConn{Conn: local},
		peer:   peer,
		posted: make(chan types.Message, 100),
	}
	tl.link, err = newLink(Config{Timeout: 10 * time.Second}, tl.tap)
	if err != nil {
		peer.Close()
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tl.link.Run(ctx, &tl.wg, func(msg types.Message) { tl.posted <- msg })

	t.Cleanup(func() {
		cancel()
		tl.link.Close()
		tl.closePeer()
		tl.wg.Wait()
	})
	return tl
}

func (tl *testLink) closePeer() {
	tl.once.Do(tl.peer.Close)
}

func (tl *testLink) command(t *testing.T, messageType string, cmd interface{}) {
	t.Helper()
	tl.link.Receive(types.CreateMessage(messageType, "flight", "vehicle", cmd))
}

// waitPosted returns the next message of messageType posted by the link.
func (tl *testLink) waitPosted(t *testing.T, messageType string) types.Message {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-tl.posted:
			if msg.MessageType == messageType {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s posted", messageType)
		}
	}
}

// waitFrame returns the next message the vehicle receives that matches.
func (tl *testLink) waitFrame(t *testing.T, match func(message.Message) bool) message.Message {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case evt := <-tl.peer.Events():
			if f, ok := evt.(*gomavlib.EventFrame); ok && match(f.Message()) {
				return f.Message()
			}
		case <-deadline:
			t.Fatal("vehicle did not receive the expected message")
		}
	}
}

func (tl *testLink) waitStopped(t *testing.T) {
	t.Helper()
	stopped := make(chan struct{})
	go func() {
		tl.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatal("link goroutines did not stop")
	}
}

func commandLongFor(cmd common.MAV_CMD) func(message.Message) bool {
	return func(m message.Message) bool {
		c, ok := m.(*common.MessageCommandLong)
		return ok && c.Command == cmd
	}
}

func TestLinkTelemetry(t *testing.T) {
	tl := startLink(t)

	err := tl.peer.WriteMessageAll(&common.MessageLocalPositionNed{X: 3, Y: -2, Z: -5, Vx: 1})
	if err != nil {
		t.Fatal(err)
	}
	pos := tl.waitPosted(t, "local-position").Message.(types.LocalPosition)
	if pos.Position != (types.NED{North: 3, East: -2, Down: -5}) {
		t.Errorf("local position %+v", pos)
	}
	vel := tl.waitPosted(t, "local-velocity").Message.(types.LocalVelocity)
	if vel.Velocity.North != 1 {
		t.Errorf("local velocity %+v", vel)
	}

	err = tl.peer.WriteMessageAll(&common.MessageCommandAck{Command: common.MAV_CMD_NAV_TAKEOFF, Result: common.MAV_RESULT_FAILED})
	if err != nil {
		t.Fatal(err)
	}
	failed := tl.waitPosted(t, "command-failed").Message.(types.CommandFailed)
	if failed.Command != common.MAV_CMD_NAV_TAKEOFF.String() {
		t.Errorf("command failure %+v", failed)
	}
}

func TestLinkCommandsFollowHeartbeat(t *testing.T) {
	tl := startLink(t)

	err := tl.peer.WriteMessageAll(&common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      common.MAV_AUTOPILOT_PX4,
		BaseMode:       common.MAV_MODE_FLAG_SAFETY_ARMED,
		SystemStatus:   common.MAV_STATE_ACTIVE,
		MavlinkVersion: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	status := tl.waitPosted(t, "vehicle-status").Message.(types.VehicleStatus)
	if status != (types.VehicleStatus{Armed: true}) {
		t.Errorf("status %+v", status)
	}

	tl.command(t, "arm", types.Arm{})
	arm := tl.waitFrame(t, commandLongFor(common.MAV_CMD_COMPONENT_ARM_DISARM)).(*common.MessageCommandLong)
	if arm.TargetSystem != 7 || arm.TargetComponent != 1 || arm.Param1 != 1 {
		t.Errorf("arm sent as %+v", arm)
	}

	tl.command(t, "goto-position", types.GotoPosition{Target: types.Waypoint{North: 10, East: 20, Altitude: 5}})
	m := tl.waitFrame(t, func(m message.Message) bool {
		_, ok := m.(*common.MessageSetPositionTargetLocalNed)
		return ok
	})
	if g := m.(*common.MessageSetPositionTargetLocalNed); g.X != 10 || g.Y != 20 || g.Z != -5 || g.TargetSystem != 7 {
		t.Errorf("goto sent as %+v", g)
	}

	tl.command(t, "set-home", types.SetHome{Position: types.GlobalPosition{Lon: -122.39745, Lat: 37.79248}})
	m = tl.waitFrame(t, func(m message.Message) bool {
		c, ok := m.(*common.MessageCommandInt)
		return ok && c.Command == common.MAV_CMD_DO_SET_HOME
	})
	if h := m.(*common.MessageCommandInt); h.X != 377924800 || h.Y != -1223974500 {
		t.Errorf("home sent as %+v", h)
	}
	tl.waitFrame(t, commandLongFor(common.MAV_CMD_REQUEST_MESSAGE))
}

func TestLinkSendWaypoints(t *testing.T) {
	tl := startLink(t)
	waypoints := []types.Waypoint{{North: 0, East: 0, Altitude: 5}, {North: 40, East: 65, Altitude: 5}}
	tl.command(t, "send-waypoints", types.SendWaypoints{Waypoints: waypoints})

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		for _, w := range tl.tap.recorded() {
			var got [][4]float64
			if msgpack.Unmarshal(w, &got) != nil {
				continue
			}
			if len(got) != 2 || got[1] != waypoints[1].Tuple() {
				t.Fatalf("waypoints sent as %v", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("waypoints were not written to the vehicle")
}

func TestLinkWriteFailure(t *testing.T) {
	tl := startLink(t)
	tl.tap.setRejectRaw(true)

	tl.command(t, "send-waypoints", types.SendWaypoints{Waypoints: []types.Waypoint{{Altitude: 5}}})
	failed := tl.waitPosted(t, "command-failed").Message.(types.CommandFailed)
	if failed.Command != "send-waypoints" || failed.Result == "" {
		t.Errorf("failure %+v", failed)
	}
}

func TestLinkClosedByVehicle(t *testing.T) {
	tl := startLink(t)
	tl.closePeer()

	closed := tl.waitPosted(t, "link-closed").Message.(types.LinkClosed)
	if closed.Reason == "" {
		t.Error("link closed without a reason")
	}
	tl.waitStopped(t)
}

func TestLinkStop(t *testing.T) {
	tl := startLink(t)
	tl.command(t, "stop", types.Stop{})
	tl.waitStopped(t)

	for {
		select {
		case msg := <-tl.posted:
			if msg.MessageType == "link-closed" {
				t.Errorf("stop reported as %+v", msg.Message)
			}
		default:
			// commands after stop must not block
			tl.command(t, "arm", types.Arm{})
			return
		}
	}
}
