package flight

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tiiuae/motionplanning/internal/types"
)

type flight struct {
	machine *Machine
	inbox   chan types.Message
}

// New wraps the machine in a bus handler. Telemetry is processed one message
// at a time on the handler's own goroutine.
func New(machine *Machine) types.MessageHandler {
	return &flight{machine, make(chan types.Message, 100)}
}

func (f *flight) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	go f.runMessageLoop(ctx, wg, post)
}

// Receive queues telemetry for the state machine. Telemetry is periodic, so
// when planning holds up the loop and the inbox fills, the newest samples are
// dropped instead of stalling the bus.
func (f *flight) Receive(message types.Message) {
	switch message.Message.(type) {
	case types.VehicleStatus, types.LocalPosition, types.LocalVelocity, types.GlobalPositionUpdate, types.GlobalHome:
	default:
		return
	}

	select {
	case f.inbox <- message:
	default:
		logrus.WithField("type", message.MessageType).Warn("Flight inbox full, telemetry dropped")
	}
}

func (f *flight) runMessageLoop(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Flight shutting down")
			return
		case msg := <-f.inbox:
			out, err := f.machine.Handle(msg.Message)
			if err != nil {
				logrus.WithError(err).WithField("state", f.machine.State()).Error("Mission aborted")
				post(types.CreateMessage("mission-aborted", "flight", "*", types.MissionAborted{Err: err}))
				return
			}
			for _, m := range out {
				post(m)
			}
		}
	}
}
