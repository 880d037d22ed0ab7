package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/hubmirror/internal/common"
	"github.com/dmitrijs2005/hubmirror/internal/models"
)

// subscribedCategories is sent as the event-type filter on the events page so
// the hub does not ship categories the dispatcher has no handler for.
var subscribedCategories = []EventCategory{
	MergeMessage, PruneMessage, RevokeMessage, MergeAccountEvent,
}

// HTTPClient implements Client over the hub's HTTP API. Every call carries a
// bounded per-request timeout; the subscription stream is a long-poll loop
// over the events page and terminates on the first transport error.
type HTTPClient struct {
	baseURL      string
	http         *http.Client
	pageSize     int
	pollInterval time.Duration
}

// HTTPClientOpts tunes the client. Zero values fall back to defaults.
type HTTPClientOpts struct {
	RequestTimeout time.Duration
	PageSize       int
	PollInterval   time.Duration
}

func NewHTTPClient(baseURL string, opts HTTPClientOpts) *HTTPClient {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.PageSize == 0 {
		opts.PageSize = 1000
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: opts.RequestTimeout},
		pageSize:     opts.PageSize,
		pollInterval: opts.PollInterval,
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return common.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub request %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding hub response %s: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) HeadEventID(ctx context.Context) (uint64, error) {
	var info struct {
		HeadEventID uint64 `json:"headEventId"`
	}
	if err := c.get(ctx, "/v1/info", nil, &info); err != nil {
		return 0, err
	}
	return info.HeadEventID, nil
}

func (c *HTTPClient) Event(ctx context.Context, id uint64) (*Event, error) {
	q := url.Values{"event_id": {strconv.FormatUint(id, 10)}}
	var we wireEvent
	if err := c.get(ctx, "/v1/eventById", q, &we); err != nil {
		return nil, err
	}
	return decodeEvent(we), nil
}

func (c *HTTPClient) Fids(ctx context.Context, pageToken string) ([]uint64, string, error) {
	q := url.Values{"pageSize": {strconv.Itoa(c.pageSize)}}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	var page wireFidPage
	if err := c.get(ctx, "/v1/fids", q, &page); err != nil {
		return nil, "", err
	}
	return page.Fids, page.NextPageToken, nil
}

func (c *HTTPClient) MessagesByFid(ctx context.Context, fid uint64, kind models.MessageKind, pageToken string) ([]*models.Message, string, error) {
	q := url.Values{
		"fid":      {strconv.FormatUint(fid, 10)},
		"kind":     {kind.String()},
		"pageSize": {strconv.Itoa(c.pageSize)},
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var page wireMessagePage
	if err := c.get(ctx, "/v1/messagesByFid", q, &page); err != nil {
		return nil, "", err
	}

	msgs := make([]*models.Message, 0, len(page.Messages))
	for _, wm := range page.Messages {
		if m := decodeMessage(wm); m != nil {
			msgs = append(msgs, m)
		}
	}
	return msgs, page.NextPageToken, nil
}

func (c *HTTPClient) events(ctx context.Context, fromID uint64) ([]wireEvent, uint64, error) {
	types := make([]string, 0, len(subscribedCategories))
	for _, cat := range subscribedCategories {
		types = append(types, cat.String())
	}
	q := url.Values{
		"from_event_id": {strconv.FormatUint(fromID, 10)},
		"page_size":     {strconv.Itoa(c.pageSize)},
		"event_types":   {strings.Join(types, ",")},
	}
	var page wireEventPage
	if err := c.get(ctx, "/v1/events", q, &page); err != nil {
		return nil, 0, err
	}
	return page.Events, page.NextEventID, nil
}

func (c *HTTPClient) Subscribe(ctx context.Context, fromID uint64) (EventStream, error) {
	// Probe once so a bad address fails at subscribe time, not on first Next.
	if _, err := c.HeadEventID(ctx); err != nil {
		return nil, fmt.Errorf("opening subscription: %w", err)
	}
	return &pollStream{c: c, from: fromID}, nil
}

// pollStream presents the paged events endpoint as an ordered stream. It
// keeps a single read cursor and never reorders or deduplicates.
type pollStream struct {
	c      *HTTPClient
	from   uint64
	buf    []wireEvent
	closed bool
}

func (s *pollStream) Next(ctx context.Context) (*Event, error) {
	if s.closed {
		return nil, common.ErrStreamClosed
	}

	for len(s.buf) == 0 {
		events, next, err := s.c.events(ctx, s.from)
		if err != nil {
			return nil, err
		}
		if next > s.from {
			s.from = next
		}
		if len(events) > 0 {
			s.buf = events
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.c.pollInterval):
		}
	}

	we := s.buf[0]
	s.buf = s.buf[1:]
	return decodeEvent(we), nil
}

func (s *pollStream) Close() error {
	s.closed = true
	s.buf = nil
	return nil
}
