package backfill

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hubmirror/internal/hub"
	"github.com/dmitrijs2005/hubmirror/internal/logging"
	"github.com/dmitrijs2005/hubmirror/internal/models"
)

// fakeHub serves a canned account listing and per-fid message pages, and
// records call order so snapshot-before-enumeration can be asserted.
type fakeHub struct {
	head     uint64
	fidPages map[string]fidPage
	messages map[uint64][]*models.Message
	failFids map[uint64]bool

	calls []string
}

type fidPage struct {
	fids []uint64
	next string
}

func (f *fakeHub) HeadEventID(ctx context.Context) (uint64, error) {
	f.calls = append(f.calls, "head")
	return f.head, nil
}

func (f *fakeHub) Subscribe(ctx context.Context, fromID uint64) (hub.EventStream, error) {
	return nil, errors.New("not used")
}

func (f *fakeHub) Event(ctx context.Context, id uint64) (*hub.Event, error) {
	return nil, errors.New("not used")
}

func (f *fakeHub) Fids(ctx context.Context, pageToken string) ([]uint64, string, error) {
	f.calls = append(f.calls, "fids:"+pageToken)
	page, ok := f.fidPages[pageToken]
	if !ok {
		return nil, "", fmt.Errorf("unknown page token %q", pageToken)
	}
	return page.fids, page.next, nil
}

func (f *fakeHub) MessagesByFid(ctx context.Context, fid uint64, kind models.MessageKind, pageToken string) ([]*models.Message, string, error) {
	if f.failFids[fid] {
		return nil, "", errors.New("hub timeout")
	}
	if kind != models.KindCast || pageToken != "" {
		return nil, "", nil
	}
	return f.messages[fid], "", nil
}

type recordingDispatcher struct {
	events []*hub.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev *hub.Event) error {
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, ev)
	return nil
}

type fakeCheckpoints struct {
	calls  *[]string
	resets []uint64
}

func (c *fakeCheckpoints) Get(ctx context.Context) (uint64, error) { return 0, errors.New("not used") }
func (c *fakeCheckpoints) Set(ctx context.Context, id uint64) error {
	return errors.New("not used")
}
func (c *fakeCheckpoints) Reset(ctx context.Context, id uint64) error {
	*c.calls = append(*c.calls, "reset")
	c.resets = append(c.resets, id)
	return nil
}

func castMsg(fid uint64, hash string) *models.Message {
	return &models.Message{Hash: hash, Fid: fid, Body: models.CastBody{Text: "x"}}
}

func newCoordinator(h *fakeHub, d Dispatcher, opts Opts) (*Coordinator, *fakeCheckpoints) {
	cps := &fakeCheckpoints{calls: &h.calls}
	return New(h, d, cps, logging.NewDiscardLogger(), opts), cps
}

func TestRun_SnapshotsHeadBeforeEnumeration(t *testing.T) {
	h := &fakeHub{
		head: 500,
		fidPages: map[string]fidPage{
			"": {fids: []uint64{1}},
		},
		messages: map[uint64][]*models.Message{1: {castMsg(1, "0xa")}},
	}
	d := &recordingDispatcher{}
	c, cps := newCoordinator(h, d, Opts{})

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []uint64{500}, cps.resets)
	require.GreaterOrEqual(t, len(h.calls), 3)
	assert.Equal(t, []string{"head", "reset", "fids:"}, h.calls[:3],
		"checkpoint snapshot must land before any account is listed")
}

func TestRun_WalksFidPagesAndDispatchesHistory(t *testing.T) {
	h := &fakeHub{
		head: 10,
		fidPages: map[string]fidPage{
			"":   {fids: []uint64{1, 2}, next: "p2"},
			"p2": {fids: []uint64{3}},
		},
		messages: map[uint64][]*models.Message{
			1: {castMsg(1, "0xa"), castMsg(1, "0xb")},
			2: {castMsg(2, "0xc")},
			3: {castMsg(3, "0xd")},
		},
	}
	d := &recordingDispatcher{}
	c, _ := newCoordinator(h, d, Opts{})

	require.NoError(t, c.Run(context.Background()))

	require.Len(t, d.events, 4)
	for _, ev := range d.events {
		assert.Equal(t, hub.MergeMessage, ev.Category, "replayed history reuses the merge path")
	}
	assert.Equal(t, "0xd", d.events[3].Message.Hash)
}

func TestRun_SkipsAccountOnFetchError(t *testing.T) {
	h := &fakeHub{
		head: 10,
		fidPages: map[string]fidPage{
			"": {fids: []uint64{1, 2, 3}},
		},
		messages: map[uint64][]*models.Message{
			1: {castMsg(1, "0xa")},
			3: {castMsg(3, "0xd")},
		},
		failFids: map[uint64]bool{2: true},
	}
	d := &recordingDispatcher{}
	c, _ := newCoordinator(h, d, Opts{})

	require.NoError(t, c.Run(context.Background()), "an unreadable account must not abort the run")
	require.Len(t, d.events, 2)
	assert.Equal(t, uint64(1), d.events[0].Message.Fid)
	assert.Equal(t, uint64(3), d.events[1].Message.Fid)
}

func TestRun_BoundsByMaxFidRegardlessOfListingOrder(t *testing.T) {
	// The hub does not promise ascending fids, so a later page may still carry
	// in-bound accounts after an out-of-bound one was seen.
	h := &fakeHub{
		head: 10,
		fidPages: map[string]fidPage{
			"":   {fids: []uint64{3, 1}, next: "p2"},
			"p2": {fids: []uint64{2, 4}},
		},
		messages: map[uint64][]*models.Message{
			1: {castMsg(1, "0xa")},
			2: {castMsg(2, "0xb")},
			3: {castMsg(3, "0xc")},
			4: {castMsg(4, "0xd")},
		},
	}
	d := &recordingDispatcher{}
	c, _ := newCoordinator(h, d, Opts{MaxFid: 2})

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, d.events, 2)
	assert.Equal(t, uint64(1), d.events[0].Message.Fid)
	assert.Equal(t, uint64(2), d.events[1].Message.Fid)
}

func TestRun_PersistenceErrorAborts(t *testing.T) {
	h := &fakeHub{
		head: 10,
		fidPages: map[string]fidPage{
			"": {fids: []uint64{1, 2}},
		},
		messages: map[uint64][]*models.Message{
			1: {castMsg(1, "0xa")},
			2: {castMsg(2, "0xb")},
		},
	}
	d := &recordingDispatcher{err: errors.New("db down")}
	c, _ := newCoordinator(h, d, Opts{})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfilling fid 1")
}
