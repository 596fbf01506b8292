package types

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type PostFn = func(msg Message)

// MessageHandler is a bus participant. Run must not block; handlers start
// their own goroutines and register them on wg.
type MessageHandler interface {
	Run(ctx context.Context, wg *sync.WaitGroup, post PostFn)
	Receive(message Message)
}

// MessageBus fans every posted message out to all receivers, one message at
// a time and in posting order.
type MessageBus struct {
	bus       chan Message
	receivers []MessageHandler
	done      chan struct{}
}

func NewMessageBus(bus chan Message, receivers ...MessageHandler) *MessageBus {
	return &MessageBus{bus, receivers, make(chan struct{})}
}

// Post is the PostFn handed to receivers. It may also be used by the owner of
// the bus to inject messages. Messages posted after Run has returned are
// discarded.
func (mb *MessageBus) Post(msg Message) {
	busCapacity := cap(mb.bus)
	busLen := len(mb.bus)
	if busLen > busCapacity/2 {
		logrus.WithFields(logrus.Fields{
			"length":   busLen,
			"capacity": busCapacity,
		}).Warn("Bus capacity over 50%")
	}
	select {
	case mb.bus <- msg:
	case <-mb.done:
	}
}

func (mb *MessageBus) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()
	defer close(mb.done)

	for _, x := range mb.receivers {
		x.Run(ctx, wg, mb.Post)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mb.bus:
			for _, x := range mb.receivers {
				x.Receive(msg)
			}
		}
	}
}
