// Package vehicle is the MAVLink link to the simulated vehicle. It posts
// decoded telemetry to the bus and turns command messages into MAVLink.
package vehicle

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tiiuae/motionplanning/internal/types"
)

type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
	// SystemID identifies this program on the MAVLink network.
	SystemID byte
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

type Link struct {
	conf   Config
	conn   *lockedConn
	node   *gomavlib.Node
	inbox  chan types.Message
	target atomic.Value
	once   sync.Once
	closed chan struct{}
}

// Dial connects to the vehicle. The TCP stream is shared between the MAVLink
// node and raw waypoint payloads.
func Dial(ctx context.Context, conf Config) (*Link, error) {
	dialer := net.Dialer{Timeout: conf.Timeout}
	c, err := dialer.DialContext(ctx, "tcp", conf.Address())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", conf.Address())
	}
	return newLink(conf, c)
}

func newLink(conf Config, rwc io.ReadWriteCloser) (*Link, error) {
	conn := &lockedConn{ReadWriteCloser: rwc}
	if conf.SystemID == 0 {
		conf.SystemID = 255
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointCustom{ReadWriteCloser: conn},
		},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: conf.SystemID,
	})
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "create mavlink node")
	}

	l := &Link{
		conf:   conf,
		conn:   conn,
		node:   node,
		inbox:  make(chan types.Message, 100),
		closed: make(chan struct{}),
	}
	l.target.Store(target{system: 1, component: 1})
	return l, nil
}

func (l *Link) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(2)
	go l.runEventLoop(ctx, wg, post)
	go l.runCommandLoop(ctx, wg, post)
}

func (l *Link) Receive(message types.Message) {
	switch message.Message.(type) {
	case types.Arm, types.Disarm, types.TakeControl, types.ReleaseControl, types.SetHome,
		types.TakeOff, types.GotoPosition, types.Land, types.Stop, types.SendWaypoints:
		select {
		case l.inbox <- message:
		case <-l.closed:
			logrus.WithField("command", message.MessageType).Warn("Vehicle link closed, command dropped")
		}
	}
}

// Close shuts down the node and the connection. Safe to call more than once.
func (l *Link) Close() {
	l.once.Do(func() {
		close(l.closed)
		l.node.Close()
		l.conn.Close()
	})
}

func (l *Link) runEventLoop(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	defer wg.Done()

	inactivity := time.NewTimer(l.conf.Timeout)
	defer inactivity.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.closed:
			return
		case <-inactivity.C:
			logrus.WithField("timeout", l.conf.Timeout).Error("No telemetry from vehicle")
			post(types.CreateMessage("link-closed", "vehicle", "*",
				types.LinkClosed{Reason: fmt.Sprintf("no telemetry for %v", l.conf.Timeout)}))
			l.Close()
			return
		case evt, ok := <-l.node.Events():
			if !ok {
				return
			}
			switch e := evt.(type) {
			case *gomavlib.EventFrame:
				if !inactivity.Stop() {
					select {
					case <-inactivity.C:
					default:
					}
				}
				inactivity.Reset(l.conf.Timeout)

				if _, ok := e.Message().(*common.MessageHeartbeat); ok {
					l.target.Store(target{system: e.SystemID(), component: e.ComponentID()})
				}
				for _, t := range decode(e.Message()) {
					post(types.CreateMessage(t.messageType, "vehicle", "*", t.message))
				}
			case *gomavlib.EventChannelClose:
				select {
				case <-l.closed:
					return
				default:
				}
				logrus.Error("Vehicle closed the connection")
				post(types.CreateMessage("link-closed", "vehicle", "*", types.LinkClosed{Reason: "connection closed"}))
				l.Close()
				return
			case *gomavlib.EventParseError:
				logrus.WithError(e.Error).Debug("MAVLink parse error")
			}
		}
	}
}

func (l *Link) runCommandLoop(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.closed:
			return
		case msg := <-l.inbox:
			if err := l.execute(msg.Message); err != nil {
				logrus.WithError(err).WithField("command", msg.MessageType).Error("Command failed")
				post(types.CreateMessage("command-failed", "vehicle", "*",
					types.CommandFailed{Command: msg.MessageType, Result: err.Error()}))
			}
		}
	}
}

func (l *Link) execute(cmd interface{}) error {
	switch c := cmd.(type) {
	case types.Stop:
		logrus.Info("Closing vehicle link")
		l.Close()
		return nil
	case types.SendWaypoints:
		return writeWaypoints(l.conn, c.Waypoints)
	}

	t := l.target.Load().(target)
	msg, err := encode(cmd, t)
	if err != nil {
		return err
	}
	if err := l.node.WriteMessageAll(msg); err != nil {
		return errors.Wrap(err, "write message")
	}
	if _, ok := cmd.(types.SetHome); ok {
		return errors.Wrap(l.node.WriteMessageAll(requestHomePosition(t)), "request home position")
	}
	return nil
}
