package types

import "fmt"

// NED is a position or velocity in the local tangent plane (meters).
type NED struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	Down  float64 `json:"down"`
}

// GlobalPosition is a geodetic position in degrees, altitude in meters.
type GlobalPosition struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
	Alt float64 `json:"alt"`
}

// Waypoint is a goto target in local coordinates. Altitude is positive up.
type Waypoint struct {
	North    float64 `json:"north"`
	East     float64 `json:"east"`
	Altitude float64 `json:"altitude"`
	Heading  float64 `json:"heading"`
}

// Tuple is the wire form used by the simulator's waypoint visualization.
func (w Waypoint) Tuple() [4]float64 {
	return [4]float64{w.North, w.East, w.Altitude, w.Heading}
}

func (w Waypoint) String() string {
	return fmt.Sprintf("[%.1f %.1f %.1f %.1f]", w.North, w.East, w.Altitude, w.Heading)
}

// Telemetry posted by the vehicle link

type LocalPosition struct {
	Position NED
}

type LocalVelocity struct {
	Velocity NED
}

type GlobalPositionUpdate struct {
	Position GlobalPosition
}

type GlobalHome struct {
	Position GlobalPosition
}

// VehicleStatus is derived from every heartbeat and drives the mission-status
// transitions.
type VehicleStatus struct {
	Armed  bool
	Guided bool
}

type CommandFailed struct {
	Command string
	Result  string
}

type LinkClosed struct {
	Reason string
}

// Commands consumed by the vehicle link

type Arm struct{}

type Disarm struct{}

type TakeControl struct{}

type ReleaseControl struct{}

type SetHome struct {
	Position GlobalPosition
}

type TakeOff struct {
	Altitude float64
}

type GotoPosition struct {
	Target Waypoint
}

type Land struct{}

// Stop ends the mission and closes the vehicle link.
type Stop struct{}

type SendWaypoints struct {
	Waypoints []Waypoint
}

// Mission notifications

type FlightStateChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type MissionAborted struct {
	Err error
}

type MissionCompleted struct{}
