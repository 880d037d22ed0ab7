package replicator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hubmirror/internal/hub"
	"github.com/dmitrijs2005/hubmirror/internal/logging"
	"github.com/dmitrijs2005/hubmirror/internal/models"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// scriptedStream replays a fixed sequence of results, then a terminal error.
type scriptedStream struct {
	events   []*hub.Event
	terminal error
	closed   bool
}

func (s *scriptedStream) Next(ctx context.Context) (*hub.Event, error) {
	if len(s.events) == 0 {
		if s.terminal != nil {
			return nil, s.terminal
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type scriptedHub struct {
	stream   *scriptedStream
	subErr   error
	lastFrom uint64
}

func (h *scriptedHub) HeadEventID(ctx context.Context) (uint64, error) {
	return 0, errors.New("not used")
}

func (h *scriptedHub) Subscribe(ctx context.Context, fromID uint64) (hub.EventStream, error) {
	h.lastFrom = fromID
	if h.subErr != nil {
		return nil, h.subErr
	}
	return h.stream, nil
}

func (h *scriptedHub) Event(ctx context.Context, id uint64) (*hub.Event, error) {
	return nil, errors.New("not used")
}

func (h *scriptedHub) Fids(ctx context.Context, pageToken string) ([]uint64, string, error) {
	return nil, "", errors.New("not used")
}

func (h *scriptedHub) MessagesByFid(ctx context.Context, fid uint64, kind models.MessageKind, pageToken string) ([]*models.Message, string, error) {
	return nil, "", errors.New("not used")
}

type countingDispatcher struct {
	ids     []uint64
	failOn  uint64
	failErr error
}

func (d *countingDispatcher) Dispatch(ctx context.Context, ev *hub.Event) error {
	if d.failOn != 0 && ev.ID == d.failOn {
		return d.failErr
	}
	d.ids = append(d.ids, ev.ID)
	return nil
}

func event(id uint64) *hub.Event {
	return &hub.Event{ID: id, Category: hub.MergeMessage, Message: &models.Message{
		Hash: "0xa", Fid: 1, Body: models.CastBody{Text: "x"},
	}}
}

func TestSubscriber_TracksHighestAppliedID(t *testing.T) {
	stream := &scriptedStream{events: []*hub.Event{event(10), event(11), event(12)}}
	h := &scriptedHub{stream: stream}
	d := &countingDispatcher{}
	sub := NewSubscriber(h, d, logging.NewDiscardLogger())

	_, ok := sub.Applied()
	assert.False(t, ok, "nothing applied before the run")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, 10) }()

	waitFor(t, func() bool { id, ok := sub.Applied(); return ok && id == 12 })
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, uint64(10), h.lastFrom)
	assert.Equal(t, []uint64{10, 11, 12}, d.ids)
	assert.True(t, stream.closed)
}

func TestSubscriber_StreamErrorPropagates(t *testing.T) {
	stream := &scriptedStream{events: []*hub.Event{event(10)}, terminal: errors.New("connection reset")}
	h := &scriptedHub{stream: stream}
	d := &countingDispatcher{}
	sub := NewSubscriber(h, d, logging.NewDiscardLogger())

	err := sub.Run(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	id, ok := sub.Applied()
	require.True(t, ok)
	assert.Equal(t, uint64(10), id, "events before the break still count as applied")
}

func TestSubscriber_DispatchErrorPropagates(t *testing.T) {
	stream := &scriptedStream{events: []*hub.Event{event(10), event(11)}}
	h := &scriptedHub{stream: stream}
	d := &countingDispatcher{failOn: 11, failErr: errors.New("db down")}
	sub := NewSubscriber(h, d, logging.NewDiscardLogger())

	err := sub.Run(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applying event 11")

	id, ok := sub.Applied()
	require.True(t, ok)
	assert.Equal(t, uint64(10), id, "a failed event is never recorded as applied")
}

func TestSubscriber_SubscribeErrorPropagates(t *testing.T) {
	h := &scriptedHub{subErr: errors.New("bad address")}
	sub := NewSubscriber(h, &countingDispatcher{}, logging.NewDiscardLogger())

	err := sub.Run(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening event stream")
}

func TestSubscriber_CancelIsCleanStop(t *testing.T) {
	stream := &scriptedStream{}
	h := &scriptedHub{stream: stream}
	sub := NewSubscriber(h, &countingDispatcher{}, logging.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, 0) }()

	cancel()
	require.NoError(t, <-done)
}
