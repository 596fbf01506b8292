package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/tiiuae/motionplanning/internal/types"
)

var ErrLinkClosed = errors.New("vehicle link closed")

// supervisor watches the bus for the end of the mission.
type supervisor struct {
	done chan error
}

func newSupervisor() *supervisor {
	return &supervisor{make(chan error, 1)}
}

func (s *supervisor) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
}

func (s *supervisor) Receive(message types.Message) {
	switch m := message.Message.(type) {
	case types.MissionCompleted:
		s.finish(nil)
	case types.MissionAborted:
		s.finish(m.Err)
	case types.LinkClosed:
		s.finish(errors.WithMessage(ErrLinkClosed, m.Reason))
	}
}

// finish records the first outcome only.
func (s *supervisor) finish(err error) {
	select {
	case s.done <- err:
	default:
	}
}

// wait blocks until the mission ends or ctx is cancelled. Cancellation is a
// clean stop.
func (s *supervisor) wait(ctx context.Context) error {
	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		return nil
	}
}
