// Package planning turns an obstacle survey into a flyable list of
// waypoints: occupancy grid, A* search, path simplification.
package planning

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tiiuae/motionplanning/internal/frame"
	"github.com/tiiuae/motionplanning/internal/survey"
	"github.com/tiiuae/motionplanning/internal/types"
)

type Options struct {
	TargetAltitude float64
	SafetyDistance float64
	Connectivity   Connectivity
	Epsilon        float64
	// Shortcut enables line-of-sight simplification of the pruned path.
	// Without it an 8-connected route around a single block keeps every
	// diagonal-to-straight turn, well over 6 waypoints.
	Shortcut bool
}

func DefaultOptions() Options {
	return Options{
		TargetAltitude: 5,
		SafetyDistance: 5,
		Connectivity:   EightConnected,
		Epsilon:        DefaultEpsilon,
		Shortcut:       true,
	}
}

type Plan struct {
	// Home is the geodetic origin of the waypoint coordinates.
	Home      types.GlobalPosition
	Start     Cell
	Goal      Cell
	RawCells  int
	Cost      float64
	Path      Path
	Waypoints []types.Waypoint
}

type Planner struct {
	survey  *survey.Survey
	options Options
}

func New(s *survey.Survey, options Options) *Planner {
	if options.Connectivity == 0 {
		options.Connectivity = EightConnected
	}
	if options.Epsilon <= 0 {
		options.Epsilon = DefaultEpsilon
	}
	return &Planner{s, options}
}

// Home is the survey origin at ground level. Waypoints are relative to it.
func (p *Planner) Home() types.GlobalPosition {
	return types.GlobalPosition{Lon: p.survey.Origin.Lon, Lat: p.survey.Origin.Lat, Alt: 0}
}

func (p *Planner) TargetAltitude() float64 {
	return p.options.TargetAltitude
}

// Plan finds waypoints from start to goal. Errors wrapping
// ErrPlanningInfeasible mean the mission cannot be flown.
func (p *Planner) Plan(start, goal types.GlobalPosition) (*Plan, error) {
	home := p.Home()
	localStart := frame.GlobalToLocal(start, home)
	localGoal := frame.GlobalToLocal(goal, home)

	began := time.Now()
	grid, err := BuildGrid(p.survey.Obstacles, p.options.TargetAltitude, p.options.SafetyDistance, localStart, localGoal)
	if err != nil {
		return nil, errors.WithMessage(err, "build grid")
	}

	plan := &Plan{
		Home:  home,
		Start: grid.CellAt(localStart),
		Goal:  grid.CellAt(localGoal),
	}
	logrus.WithFields(logrus.Fields{
		"rows":        grid.Rows,
		"cols":        grid.Cols,
		"northOffset": grid.NorthOffset,
		"eastOffset":  grid.EastOffset,
		"start":       plan.Start,
		"goal":        plan.Goal,
	}).Info("Searching for a path")

	path, cost, err := Search(grid, plan.Start, plan.Goal, p.options.Connectivity)
	if err != nil {
		return nil, errors.WithMessagef(err, "local start %.1f,%.1f goal %.1f,%.1f",
			localStart.North, localStart.East, localGoal.North, localGoal.East)
	}
	plan.RawCells = len(path)
	plan.Cost = cost

	path = Prune(path, p.options.Epsilon)
	if p.options.Shortcut {
		path = Prune(Shortcut(grid, path), p.options.Epsilon)
	}
	plan.Path = path
	plan.Waypoints = ToWaypoints(grid, path, p.options.TargetAltitude)

	logrus.WithFields(logrus.Fields{
		"cost":      cost,
		"cells":     plan.RawCells,
		"waypoints": len(plan.Waypoints),
		"elapsed":   time.Since(began),
	}).Info("Path found")

	return plan, nil
}
