package planning

import (
	"math"

	"github.com/tiiuae/motionplanning/internal/types"
)

// DefaultEpsilon is the collinearity tolerance used by the planner.
const DefaultEpsilon = 1e-6

// Collinear reports whether three cells lie on one line: the determinant of
// the rows (row, col, 1) is within epsilon of zero.
func Collinear(p1, p2, p3 Cell, epsilon float64) bool {
	return math.Abs(det(p1, p2, p3)) < epsilon
}

func det(p1, p2, p3 Cell) float64 {
	x1, y1 := float64(p1.Row), float64(p1.Col)
	x2, y2 := float64(p2.Row), float64(p2.Col)
	x3, y3 := float64(p3.Row), float64(p3.Col)
	return x1*(y2-y3) - y1*(x2-x3) + (x2*y3 - x3*y2)
}

// Prune drops every interior cell that is collinear with its retained
// neighbours. The first and last cells are always kept.
func Prune(path Path, epsilon float64) Path {
	pruned := append(Path(nil), path...)
	i := 0
	for i < len(pruned)-2 {
		if Collinear(pruned[i], pruned[i+1], pruned[i+2], epsilon) {
			pruned = append(pruned[:i+1], pruned[i+2:]...)
			// the triple ending at the new i+1 has changed too
			if i > 0 {
				i--
			}
		} else {
			i++
		}
	}
	return pruned
}

// Shortcut removes interior cells whenever the straight segment between the
// retained neighbours crosses only free cells.
func Shortcut(g *Grid, path Path) Path {
	if len(path) < 3 {
		return append(Path(nil), path...)
	}
	result := Path{path[0]}
	anchor := path[0]
	for i := 2; i < len(path); i++ {
		if !g.lineOfSight(anchor, path[i]) {
			anchor = path[i-1]
			result = append(result, anchor)
		}
	}
	return append(result, path[len(path)-1])
}

// lineOfSight walks every cell the segment between the centres of a and b
// touches.
func (g *Grid) lineOfSight(a, b Cell) bool {
	dr, dc := b.Row-a.Row, b.Col-a.Col
	nr, nc := abs(dr), abs(dc)
	sr, sc := sign(dr), sign(dc)

	r, c := a.Row, a.Col
	if g.Blocked(Cell{r, c}) {
		return false
	}
	for ir, ic := 0, 0; ir < nr || ic < nc; {
		// compare (ir+0.5)/nr with (ic+0.5)/nc without division
		cross := (1+2*ir)*nc - (1+2*ic)*nr
		switch {
		case cross == 0:
			// passes exactly through a corner, both neighbours must be free
			if g.Blocked(Cell{r + sr, c}) || g.Blocked(Cell{r, c + sc}) {
				return false
			}
			r += sr
			c += sc
			ir++
			ic++
		case cross < 0:
			r += sr
			ir++
		default:
			c += sc
			ic++
		}
		if g.Blocked(Cell{r, c}) {
			return false
		}
	}
	return true
}

// ToWaypoints converts path cells to local waypoints at altitude, heading 0.
func ToWaypoints(g *Grid, path Path, altitude float64) []types.Waypoint {
	waypoints := make([]types.Waypoint, 0, len(path))
	for _, c := range path {
		w := g.World(c)
		waypoints = append(waypoints, types.Waypoint{
			North:    w.North,
			East:     w.East,
			Altitude: altitude,
			Heading:  0,
		})
	}
	return waypoints
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
