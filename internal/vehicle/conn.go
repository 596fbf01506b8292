package vehicle

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/tiiuae/motionplanning/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// lockedConn serializes writes so raw payloads never interleave with the
// MAVLink frames written by the node.
type lockedConn struct {
	io.ReadWriteCloser
	mu sync.Mutex
}

func (c *lockedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ReadWriteCloser.Write(p)
}

// writeWaypoints sends the waypoint list in the simulator's visualization
// format: a msgpack array of [north, east, altitude, heading].
func writeWaypoints(w io.Writer, waypoints []types.Waypoint) error {
	tuples := make([][4]float64, len(waypoints))
	for i, wp := range waypoints {
		tuples[i] = wp.Tuple()
	}
	b, err := msgpack.Marshal(tuples)
	if err != nil {
		return errors.Wrap(err, "encode waypoints")
	}
	_, err = w.Write(b)
	return errors.Wrap(err, "write waypoints")
}
