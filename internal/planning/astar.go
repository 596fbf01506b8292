package planning

import (
	"container/heap"
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrPlanningInfeasible is returned for every plan that cannot be flown.
	ErrPlanningInfeasible = errors.New("planning infeasible")
	ErrStartIsGoal        = errors.WithMessage(ErrPlanningInfeasible, "start and goal are the same cell")
	ErrNoPath             = errors.WithMessage(ErrPlanningInfeasible, "no path to goal")
)

// Connectivity selects the move set and its matching heuristic.
type Connectivity int

const (
	// FourConnected moves N, S, E, W at cost 1 with a Manhattan heuristic.
	FourConnected Connectivity = iota + 1
	// EightConnected adds the diagonals at cost √2 with a Euclidean heuristic.
	EightConnected
)

func (c Connectivity) String() string {
	switch c {
	case FourConnected:
		return "4-connected"
	case EightConnected:
		return "8-connected"
	default:
		return "unknown"
	}
}

type action struct {
	dRow, dCol int
	cost       float64
}

var (
	straightActions = []action{
		{-1, 0, 1}, // south
		{1, 0, 1},  // north
		{0, -1, 1}, // west
		{0, 1, 1},  // east
	}
	diagonalActions = []action{
		{-1, -1, math.Sqrt2},
		{-1, 1, math.Sqrt2},
		{1, -1, math.Sqrt2},
		{1, 1, math.Sqrt2},
	}
)

func (c Connectivity) actions() []action {
	if c == EightConnected {
		return append(append([]action{}, straightActions...), diagonalActions...)
	}
	return straightActions
}

// Heuristic returns an admissible, consistent estimate of the cost from a to
// b for the move set.
func (c Connectivity) Heuristic(a, b Cell) float64 {
	dr := float64(a.Row - b.Row)
	dc := float64(a.Col - b.Col)
	if c == EightConnected {
		return math.Hypot(dr, dc)
	}
	return math.Abs(dr) + math.Abs(dc)
}

// Path is a start-to-goal sequence of cells.
type Path []Cell

// Cost sums the move costs along p. Consecutive cells must be one legal move
// apart.
func (p Path) Cost() float64 {
	total := 0.0
	for i := 1; i < len(p); i++ {
		dr := p[i].Row - p[i-1].Row
		dc := p[i].Col - p[i-1].Col
		if dr != 0 && dc != 0 {
			total += math.Sqrt2
		} else {
			total += 1
		}
	}
	return total
}

type openItem struct {
	cell Cell
	g    float64
	f    float64
	seq  int
}

// openSet orders by f, then by discovery order.
type openSet []openItem

func (o openSet) Len() int { return len(o) }
func (o openSet) Less(i, j int) bool {
	if o[i].f != o[j].f {
		return o[i].f < o[j].f
	}
	return o[i].seq < o[j].seq
}
func (o openSet) Swap(i, j int)       { o[i], o[j] = o[j], o[i] }
func (o *openSet) Push(x interface{}) { *o = append(*o, x.(openItem)) }
func (o *openSet) Pop() interface{} {
	old := *o
	n := len(old)
	item := old[n-1]
	*o = old[:n-1]
	return item
}

// Search runs A* from start to goal over free cells of g.
//
// When start equals goal it returns the single cell path, cost 0 and
// ErrStartIsGoal. When the goal cannot be reached (including a blocked or
// out of bounds start or goal) it returns a nil path and ErrNoPath.
func Search(g *Grid, start, goal Cell, conn Connectivity) (Path, float64, error) {
	if start == goal {
		return Path{start}, 0, ErrStartIsGoal
	}
	if g.Blocked(start) {
		return nil, 0, errors.WithMessagef(ErrNoPath, "start %v is blocked or outside the grid", start)
	}
	if g.Blocked(goal) {
		return nil, 0, errors.WithMessagef(ErrNoPath, "goal %v is blocked or outside the grid", goal)
	}

	actions := conn.actions()
	best := map[Cell]float64{start: 0}
	parent := make(map[Cell]Cell)
	closed := make(map[Cell]bool)

	seq := 0
	open := &openSet{{cell: start, g: 0, f: conn.Heuristic(start, goal), seq: seq}}

	for open.Len() > 0 {
		item := heap.Pop(open).(openItem)
		if closed[item.cell] {
			continue
		}
		closed[item.cell] = true

		if item.cell == goal {
			return reconstruct(parent, start, goal), item.g, nil
		}

		for _, a := range actions {
			next := Cell{item.cell.Row + a.dRow, item.cell.Col + a.dCol}
			if g.Blocked(next) || closed[next] {
				continue
			}
			cost := item.g + a.cost
			if old, seen := best[next]; seen && cost >= old {
				continue
			}
			best[next] = cost
			parent[next] = item.cell
			seq++
			heap.Push(open, openItem{cell: next, g: cost, f: cost + conn.Heuristic(next, goal), seq: seq})
		}
	}

	return nil, 0, ErrNoPath
}

func reconstruct(parent map[Cell]Cell, start, goal Cell) Path {
	path := Path{goal}
	for c := goal; c != start; {
		c = parent[c]
		path = append(path, c)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
