package replicator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dmitrijs2005/hubmirror/internal/hub"
	"github.com/dmitrijs2005/hubmirror/internal/logging"
)

// Dispatcher is the slice of the dispatch surface the subscriber needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *hub.Event) error
}

// Subscriber consumes the origin event stream sequentially and owns the
// in-memory checkpoint: the highest event id it has handed to the dispatcher.
// There is exactly one read cursor; the subscriber never retries a broken
// stream itself, restart policy belongs to the supervisor.
type Subscriber struct {
	hub        hub.Client
	dispatcher Dispatcher
	logger     logging.Logger

	applied    atomic.Uint64
	hasApplied atomic.Bool
}

func NewSubscriber(client hub.Client, dispatcher Dispatcher, logger logging.Logger) *Subscriber {
	return &Subscriber{
		hub:        client,
		dispatcher: dispatcher,
		logger:     logger.With("module", "subscriber"),
	}
}

// Applied returns the highest fully-dispatched event id, if any.
func (s *Subscriber) Applied() (uint64, bool) {
	return s.applied.Load(), s.hasApplied.Load()
}

// Run tails the stream from fromID until ctx is cancelled (returns nil) or
// the stream/dispatch fails (returns the error for the supervisor).
func (s *Subscriber) Run(ctx context.Context, fromID uint64) error {
	stream, err := s.hub.Subscribe(ctx, fromID)
	if err != nil {
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer stream.Close()

	s.logger.Info(ctx, "subscribed", "from_event_id", fromID)

	var count uint64
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.logger.Info(ctx, "subscription stopped", "applied", s.applied.Load())
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}

		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("applying event %d: %w", ev.ID, err)
		}

		s.applied.Store(ev.ID)
		s.hasApplied.Store(true)

		count++
		if count%10000 == 0 {
			s.logger.Debug(ctx, "tail progress", "event_id", ev.ID, "events", count)
		}
	}
}
