// Package backfill replays the full history of every known account through
// the same dispatch path the live tail uses. The origin head is snapshotted
// into the checkpoint before enumeration starts, so anything merged while the
// replay runs is re-delivered by the subsequent live subscription; overlap is
// harmless because every write is idempotent.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/ratelimit"

	"github.com/dmitrijs2005/hubmirror/internal/hub"
	"github.com/dmitrijs2005/hubmirror/internal/logging"
	"github.com/dmitrijs2005/hubmirror/internal/models"
	"github.com/dmitrijs2005/hubmirror/internal/store"
)

// Dispatcher is the slice of the dispatch surface backfill needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *hub.Event) error
}

// Opts tunes a run.
type Opts struct {
	// MaxFid, when non-zero, stops enumeration past this account id. Used
	// for staged rollouts and tests.
	MaxFid uint64

	// PagesPerSecond caps hub page fetches. Zero means unlimited.
	PagesPerSecond int
}

type Coordinator struct {
	hub         hub.Client
	dispatcher  Dispatcher
	checkpoints store.Checkpoints
	limiter     ratelimit.Limiter
	logger      logging.Logger
	maxFid      uint64
}

func New(client hub.Client, dispatcher Dispatcher, checkpoints store.Checkpoints, logger logging.Logger, opts Opts) *Coordinator {
	limiter := ratelimit.NewUnlimited()
	if opts.PagesPerSecond > 0 {
		limiter = ratelimit.New(opts.PagesPerSecond)
	}
	return &Coordinator{
		hub:         client,
		dispatcher:  dispatcher,
		checkpoints: checkpoints,
		limiter:     limiter,
		logger:      logger.With("module", "backfill"),
		maxFid:      opts.MaxFid,
	}
}

// fetchError marks a hub read failure, which skips the account instead of
// aborting the run. Persistence failures are never wrapped in it.
type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// Run replays every account's history. Safely re-executable: a partial run
// re-processes already-applied facts as no-ops.
func (c *Coordinator) Run(ctx context.Context) error {
	log := c.logger.With("run_id", uuid.NewString())
	start := time.Now()

	head, err := c.hub.HeadEventID(ctx)
	if err != nil {
		return fmt.Errorf("reading origin head: %w", err)
	}
	// The snapshot must land before any account is enumerated; events merged
	// from here on are covered by the live tail.
	if err := c.checkpoints.Reset(ctx, head); err != nil {
		return fmt.Errorf("snapshotting checkpoint: %w", err)
	}
	log.Info(ctx, "backfill started", "head_event_id", head)

	var accounts, skipped int
	pageToken := ""

	for {
		c.limiter.Take()
		fids, next, err := c.hub.Fids(ctx, pageToken)
		if err != nil {
			return fmt.Errorf("listing accounts: %w", err)
		}

		for _, fid := range fids {
			// The listing order is hub-defined, so a bounded run filters each
			// fid instead of stopping at the first one past the bound.
			if c.maxFid > 0 && fid > c.maxFid {
				continue
			}

			accounts++
			if err := c.backfillAccount(ctx, fid); err != nil {
				var fe *fetchError
				if errors.As(err, &fe) {
					skipped++
					log.Warn(ctx, "account skipped", "fid", fid, "error", err.Error())
					continue
				}
				return fmt.Errorf("backfilling fid %d: %w", fid, err)
			}
		}

		if next == "" {
			break
		}
		pageToken = next
	}

	log.Info(ctx, "backfill complete",
		"accounts", accounts, "skipped", skipped, "elapsed", time.Since(start).String())
	return nil
}

// backfillAccount pages one account's complete history, kind by kind, and
// feeds every message through the live dispatch path.
func (c *Coordinator) backfillAccount(ctx context.Context, fid uint64) error {
	for _, kind := range models.Kinds {
		pageToken := ""
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			c.limiter.Take()
			msgs, next, err := c.hub.MessagesByFid(ctx, fid, kind, pageToken)
			if err != nil {
				return &fetchError{err: err}
			}

			for _, m := range msgs {
				ev := &hub.Event{Category: hub.MergeMessage, Message: m}
				if err := c.dispatcher.Dispatch(ctx, ev); err != nil {
					return err
				}
			}

			if next == "" {
				break
			}
			pageToken = next
		}
	}
	return nil
}
