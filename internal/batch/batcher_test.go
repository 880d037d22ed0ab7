package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hubmirror/internal/logging"
)

// collector records flushed batches and can fail a configured number of times.
type collector struct {
	mu       sync.Mutex
	batches  [][]int
	failures int
}

func (c *collector) flush(ctx context.Context, items []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return errors.New("gateway unavailable")
	}
	batch := make([]int, len(items))
	copy(batch, items)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *collector) snapshot() [][]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]int, len(c.batches))
	copy(out, c.batches)
	return out
}

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

func TestBatcher_FlushesOnMaxSize(t *testing.T) {
	c := &collector{}
	b := New("test", Config{MaxSize: 3, MaxAge: time.Hour}, logging.NewDiscardLogger(), c.flush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Add(ctx, i))
	}

	waitFor(t, func() bool { return len(c.snapshot()) == 1 })
	assert.Equal(t, []int{1, 2, 3}, c.snapshot()[0])

	cancel()
	require.NoError(t, <-done)
}

func TestBatcher_FlushesOnMaxAge(t *testing.T) {
	c := &collector{}
	b := New("test", Config{MaxSize: 100, MaxAge: 30 * time.Millisecond}, logging.NewDiscardLogger(), c.flush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.NoError(t, b.Add(ctx, 7))

	waitFor(t, func() bool { return len(c.snapshot()) == 1 })
	assert.Equal(t, []int{7}, c.snapshot()[0])

	cancel()
	require.NoError(t, <-done)
}

func TestBatcher_RetriesFailedFlushWithSameItems(t *testing.T) {
	c := &collector{failures: 2}
	b := New("test", Config{MaxSize: 2, MaxAge: time.Hour, MaxRetries: 5}, logging.NewDiscardLogger(), c.flush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.NoError(t, b.Add(ctx, 1))
	require.NoError(t, b.Add(ctx, 2))

	waitFor(t, func() bool { return len(c.snapshot()) == 1 })
	assert.Equal(t, []int{1, 2}, c.snapshot()[0], "retried flush must carry the same items")

	cancel()
	require.NoError(t, <-done)
}

func TestBatcher_SurfacesErrorPastRetryBudget(t *testing.T) {
	c := &collector{failures: 100}
	b := New("test", Config{MaxSize: 1, MaxAge: time.Hour, MaxRetries: 2}, logging.NewDiscardLogger(), c.flush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.NoError(t, b.Add(ctx, 1))

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway unavailable")
}

func TestBatcher_DrainsOnShutdown(t *testing.T) {
	c := &collector{}
	b := New("test", Config{MaxSize: 100, MaxAge: time.Hour}, logging.NewDiscardLogger(), c.flush)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.NoError(t, b.Add(ctx, 1))
	require.NoError(t, b.Add(ctx, 2))

	// Neither size nor age has triggered; shutdown must not discard these.
	cancel()
	require.NoError(t, <-done)

	batches := c.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []int{1, 2}, batches[0])
}

func TestBatcher_AddBlocksWhenQueueFull(t *testing.T) {
	c := &collector{}
	// Run is never started, so the queue fills and Add must block, then fail
	// with the context error instead of growing the buffer.
	b := New("test", Config{MaxSize: 2, MaxAge: time.Hour, QueueSize: 2}, logging.NewDiscardLogger(), c.flush)

	ctx := context.Background()
	require.NoError(t, b.Add(ctx, 1))
	require.NoError(t, b.Add(ctx, 2))

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := b.Add(timeoutCtx, 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
