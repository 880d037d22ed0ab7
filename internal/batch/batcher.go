// Package batch implements the generic micro-batching buffer used by the
// write path: one instance per message kind, flushing on size or on the age
// of the oldest buffered item, whichever comes first.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrijs2005/hubmirror/internal/logging"
)

// Flush applies one batch as a unit. It must be idempotent: a batch may be
// re-applied after a retry or a process restart.
type Flush[T any] func(ctx context.Context, items []T) error

// Config tunes one batcher. Zero values fall back to defaults.
type Config struct {
	// MaxSize flushes the buffer once it holds this many items.
	MaxSize int

	// MaxAge flushes the buffer once its oldest item has waited this long.
	MaxAge time.Duration

	// QueueSize bounds the intake queue; a full queue blocks Add, which is
	// the backpressure that keeps the buffer from growing without limit.
	QueueSize int

	// MaxRetries bounds flush retries before the error becomes fatal.
	MaxRetries uint64

	// DrainTimeout bounds the final flush during shutdown.
	DrainTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxSize == 0 {
		c.MaxSize = 100
	}
	if c.MaxAge == 0 {
		c.MaxAge = 10 * time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 2 * c.MaxSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Batcher buffers items of one kind and flushes them in bulk. Run owns the
// buffer; Add only feeds the bounded intake queue, so enqueueing never races
// with a flush.
type Batcher[T any] struct {
	name   string
	cfg    Config
	flush  Flush[T]
	logger logging.Logger
	in     chan T
}

func New[T any](name string, cfg Config, logger logging.Logger, flush Flush[T]) *Batcher[T] {
	cfg.applyDefaults()
	return &Batcher[T]{
		name:   name,
		cfg:    cfg,
		flush:  flush,
		logger: logger.With("module", "batcher", "batch", name),
		in:     make(chan T, cfg.QueueSize),
	}
}

// Add enqueues one item. It blocks when the intake queue is full and returns
// the context error once ctx is done.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	select {
	case b.in <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the intake queue until ctx is done, then drains what is left
// and performs a final flush. It returns a non-nil error only when a flush
// failed past the retry budget, which the caller treats as fatal.
func (b *Batcher[T]) Run(ctx context.Context) error {
	var buf []T
	var ageLimit <-chan time.Time

	for {
		select {
		case item := <-b.in:
			buf = append(buf, item)
			if len(buf) == 1 {
				ageLimit = time.After(b.cfg.MaxAge)
			}
			if len(buf) >= b.cfg.MaxSize {
				if err := b.flushInline(ctx, buf); err != nil {
					return err
				}
				buf, ageLimit = nil, nil
			}

		case <-ageLimit:
			if err := b.flushInline(ctx, buf); err != nil {
				return err
			}
			buf, ageLimit = nil, nil

		case <-ctx.Done():
			return b.drain(buf)
		}
	}
}

// flushInline is the in-loop flush. A failure caused by shutdown cancelling
// the context is not fatal; the items are handed to drain instead so they are
// not discarded.
func (b *Batcher[T]) flushInline(ctx context.Context, buf []T) error {
	err := b.flushWithRetry(ctx, buf)
	if err != nil && ctx.Err() != nil {
		return b.drain(buf)
	}
	return err
}

// drain empties the intake queue and flushes everything left. Shutdown must
// not discard buffered writes, so this runs on a fresh bounded context.
func (b *Batcher[T]) drain(buf []T) error {
	for {
		select {
		case item := <-b.in:
			buf = append(buf, item)
			continue
		default:
		}
		break
	}

	if len(buf) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DrainTimeout)
	defer cancel()

	b.logger.Info(ctx, "draining batch", "size", len(buf))
	if err := b.flushWithRetry(ctx, buf); err != nil {
		return fmt.Errorf("draining batch %s: %w", b.name, err)
	}
	return nil
}

// flushWithRetry re-attempts the same items with capped exponential backoff.
// The buffer is never cleared until the flush succeeds; past the budget the
// error surfaces to the supervisor instead of the batch being dropped.
func (b *Batcher[T]) flushWithRetry(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}

	op := func() error {
		return b.flush(ctx, items)
	}
	notify := func(err error, wait time.Duration) {
		b.logger.Warn(ctx, "flush failed, retrying", "size", len(items), "wait", wait.String(), "error", err.Error())
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.cfg.MaxRetries)
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("flushing batch %s (%d items): %w", b.name, len(items), err)
	}

	b.logger.Debug(ctx, "batch flushed", "size", len(items))
	return nil
}
