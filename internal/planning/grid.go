package planning

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/tiiuae/motionplanning/internal/survey"
	"github.com/tiiuae/motionplanning/internal/types"
)

var ErrNoObstacles = errors.New("no obstacles to build a grid from")

// Cell is a (row, col) grid index. Rows run north, columns east.
type Cell struct {
	Row int
	Col int
}

// Grid is a 2-D occupancy grid at a fixed planning altitude.
// World coordinates of a cell are (Row + NorthOffset, Col + EastOffset).
type Grid struct {
	Rows        int
	Cols        int
	NorthOffset int
	EastOffset  int
	blocked     []bool
}

// BuildGrid rasterizes obstacles taller than altitude, each inflated by
// safety, into a grid covering all inflated footprints. Points in include
// extend the covered area so that they can be addressed as cells.
func BuildGrid(obstacles []survey.Obstacle, altitude, safety float64, include ...types.NED) (*Grid, error) {
	if len(obstacles) == 0 {
		return nil, ErrNoObstacles
	}

	northMin, northMax := math.Inf(1), math.Inf(-1)
	eastMin, eastMax := math.Inf(1), math.Inf(-1)
	for _, o := range obstacles {
		northMin = math.Min(northMin, o.North-o.HalfNorth-safety)
		northMax = math.Max(northMax, o.North+o.HalfNorth+safety)
		eastMin = math.Min(eastMin, o.East-o.HalfEast-safety)
		eastMax = math.Max(eastMax, o.East+o.HalfEast+safety)
	}
	for _, p := range include {
		northMin = math.Min(northMin, p.North)
		northMax = math.Max(northMax, p.North)
		eastMin = math.Min(eastMin, p.East)
		eastMax = math.Max(eastMax, p.East)
	}

	g := &Grid{
		NorthOffset: int(math.Floor(northMin)),
		EastOffset:  int(math.Floor(eastMin)),
	}
	g.Rows = int(math.Ceil(northMax)) - g.NorthOffset + 1
	g.Cols = int(math.Ceil(eastMax)) - g.EastOffset + 1
	g.blocked = make([]bool, g.Rows*g.Cols)

	for _, o := range obstacles {
		if o.Height < altitude {
			continue
		}
		dn := o.HalfNorth + safety
		de := o.HalfEast + safety
		// candidate window, widened by one so the exact test below decides
		r0 := clamp(int(math.Floor(o.North-dn))-g.NorthOffset-1, 0, g.Rows-1)
		r1 := clamp(int(math.Ceil(o.North+dn))-g.NorthOffset+1, 0, g.Rows-1)
		c0 := clamp(int(math.Floor(o.East-de))-g.EastOffset-1, 0, g.Cols-1)
		c1 := clamp(int(math.Ceil(o.East+de))-g.EastOffset+1, 0, g.Cols-1)
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				w := g.World(Cell{r, c})
				if covers(o, safety, w.North, w.East) {
					g.blocked[r*g.Cols+c] = true
				}
			}
		}
	}

	return g, nil
}

// covers reports whether (north, east) lies in the footprint of o inflated
// by safety. Edges are inclusive.
func covers(o survey.Obstacle, safety, north, east float64) bool {
	return math.Abs(north-o.North) <= o.HalfNorth+safety &&
		math.Abs(east-o.East) <= o.HalfEast+safety
}

func (g *Grid) InBounds(c Cell) bool {
	return c.Row >= 0 && c.Row < g.Rows && c.Col >= 0 && c.Col < g.Cols
}

// Blocked reports whether c is occupied. Out of bounds cells are blocked.
func (g *Grid) Blocked(c Cell) bool {
	if !g.InBounds(c) {
		return true
	}
	return g.blocked[c.Row*g.Cols+c.Col]
}

// World returns the local position of a cell at ground level.
func (g *Grid) World(c Cell) types.NED {
	return types.NED{
		North: float64(c.Row + g.NorthOffset),
		East:  float64(c.Col + g.EastOffset),
	}
}

// CellAt maps a local position to its cell, truncating toward zero.
func (g *Grid) CellAt(p types.NED) Cell {
	return Cell{
		Row: int(p.North) - g.NorthOffset,
		Col: int(p.East) - g.EastOffset,
	}
}

// String renders the grid north-up, '#' for blocked cells.
func (g *Grid) String() string {
	var sb strings.Builder
	for r := g.Rows - 1; r >= 0; r-- {
		for c := 0; c < g.Cols; c++ {
			if g.blocked[r*g.Cols+c] {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
