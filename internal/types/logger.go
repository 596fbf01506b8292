package types

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

type logger struct {
}

func NewLogger() MessageHandler {
	return &logger{}
}

func (l *logger) Receive(message Message) {
	entry := logrus.WithFields(logrus.Fields{
		"type": message.MessageType,
		"from": message.From,
		"to":   message.To,
	})

	switch m := message.Message.(type) {
	case LocalPosition, LocalVelocity, GlobalPositionUpdate, VehicleStatus:
		// high rate telemetry
		if logrus.IsLevelEnabled(logrus.TraceLevel) {
			b, _ := json.Marshal(m)
			entry.Trace(string(b))
		}
	case MissionAborted:
		entry.WithError(m.Err).Error("Mission aborted")
	case CommandFailed:
		entry.WithField("result", m.Result).Errorf("Command %s failed", m.Command)
	default:
		b, _ := json.Marshal(message.Message)
		entry.Info(string(b))
	}
}

func (l *logger) Run(ctx context.Context, wg *sync.WaitGroup, post PostFn) {
}
