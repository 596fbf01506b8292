package vehicle

import (
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"
	"github.com/tiiuae/motionplanning/internal/types"
)

// PX4 reports offboard control as main mode 6 in the custom mode field.
const px4ModeOffboard = 6 << 16

// Ignore velocity, acceleration and yaw rate; fly to position and yaw.
const positionTypeMask = common.POSITION_TARGET_TYPEMASK_VX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_VY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_VZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE

// MAVLink message id of HOME_POSITION, the param of MAV_CMD_REQUEST_MESSAGE.
const homePositionMessageID = 242

var ErrUnsupportedCommand = errors.New("unsupported command")

type target struct {
	system    uint8
	component uint8
}

// telemetry is one decoded bus message with its message type.
type telemetry struct {
	messageType string
	message     interface{}
}

// decode translates a MAVLink message into zero or more telemetry messages.
func decode(msg message.Message) []telemetry {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		armed := m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
		guided := m.BaseMode&common.MAV_MODE_FLAG_GUIDED_ENABLED != 0 ||
			(m.BaseMode&common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED != 0 && m.CustomMode == px4ModeOffboard)
		return []telemetry{{"vehicle-status", types.VehicleStatus{Armed: armed, Guided: guided}}}

	case *common.MessageLocalPositionNed:
		return []telemetry{
			{"local-position", types.LocalPosition{Position: types.NED{
				North: float64(m.X), East: float64(m.Y), Down: float64(m.Z),
			}}},
			{"local-velocity", types.LocalVelocity{Velocity: types.NED{
				North: float64(m.Vx), East: float64(m.Vy), Down: float64(m.Vz),
			}}},
		}

	case *common.MessageGlobalPositionInt:
		return []telemetry{{"global-position", types.GlobalPositionUpdate{Position: types.GlobalPosition{
			Lon: degrees(m.Lon), Lat: degrees(m.Lat), Alt: float64(m.Alt) / 1000,
		}}}}

	case *common.MessageHomePosition:
		return []telemetry{{"global-home", types.GlobalHome{Position: types.GlobalPosition{
			Lon: degrees(m.Longitude), Lat: degrees(m.Latitude), Alt: float64(m.Altitude) / 1000,
		}}}}

	case *common.MessageCommandAck:
		if m.Result == common.MAV_RESULT_ACCEPTED || m.Result == common.MAV_RESULT_IN_PROGRESS {
			return nil
		}
		return []telemetry{{"command-failed", types.CommandFailed{Command: m.Command.String(), Result: m.Result.String()}}}
	}
	return nil
}

// encode translates a command message into the MAVLink message that carries
// it. Stop and SendWaypoints do not map to MAVLink and are handled by the link.
func encode(cmd interface{}, t target) (message.Message, error) {
	switch c := cmd.(type) {
	case types.Arm:
		return commandLong(t, common.MAV_CMD_COMPONENT_ARM_DISARM, 1, 0, 0, 0, 0, 0, 0), nil
	case types.Disarm:
		return commandLong(t, common.MAV_CMD_COMPONENT_ARM_DISARM, 0, 0, 0, 0, 0, 0, 0), nil
	case types.TakeControl:
		return commandLong(t, common.MAV_CMD_NAV_GUIDED_ENABLE, 1, 0, 0, 0, 0, 0, 0), nil
	case types.ReleaseControl:
		return commandLong(t, common.MAV_CMD_NAV_GUIDED_ENABLE, 0, 0, 0, 0, 0, 0, 0), nil
	case types.SetHome:
		// COMMAND_INT keeps the full degE7 resolution of the position.
		p := c.Position
		return &common.MessageCommandInt{
			TargetSystem:    t.system,
			TargetComponent: t.component,
			Frame:           common.MAV_FRAME_GLOBAL,
			Command:         common.MAV_CMD_DO_SET_HOME,
			X:               degE7(p.Lat),
			Y:               degE7(p.Lon),
			Z:               float32(p.Alt),
		}, nil
	case types.TakeOff:
		return commandLong(t, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(c.Altitude)), nil
	case types.Land:
		return commandLong(t, common.MAV_CMD_NAV_LAND, 0, 0, 0, 0, 0, 0, 0), nil
	case types.GotoPosition:
		w := c.Target
		return &common.MessageSetPositionTargetLocalNed{
			TargetSystem:    t.system,
			TargetComponent: t.component,
			CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
			TypeMask:        positionTypeMask,
			X:               float32(w.North),
			Y:               float32(w.East),
			Z:               float32(-w.Altitude),
			Yaw:             float32(w.Heading),
		}, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedCommand, "%T", cmd)
}

func commandLong(t target, cmd common.MAV_CMD, params ...float32) *common.MessageCommandLong {
	return &common.MessageCommandLong{
		TargetSystem:    t.system,
		TargetComponent: t.component,
		Command:         cmd,
		Param1:          params[0],
		Param2:          params[1],
		Param3:          params[2],
		Param4:          params[3],
		Param5:          params[4],
		Param6:          params[5],
		Param7:          params[6],
	}
}

// requestHomePosition asks the vehicle to report HOME_POSITION once.
func requestHomePosition(t target) *common.MessageCommandLong {
	return commandLong(t, common.MAV_CMD_REQUEST_MESSAGE, homePositionMessageID, 0, 0, 0, 0, 0, 0)
}

func degrees(e7 int32) float64 {
	return float64(e7) / 1e7
}

func degE7(deg float64) int32 {
	return int32(math.Round(deg * 1e7))
}
