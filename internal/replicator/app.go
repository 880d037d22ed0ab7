// Package replicator initializes and runs the replication pipeline: it wires
// the hub client, the per-kind batchers, the dispatcher and the stores,
// resolves the startup mode (resume from checkpoint vs. full backfill), and
// handles graceful shutdown with a drain and a final checkpoint write.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/hubmirror/internal/backfill"
	"github.com/dmitrijs2005/hubmirror/internal/batch"
	"github.com/dmitrijs2005/hubmirror/internal/common"
	"github.com/dmitrijs2005/hubmirror/internal/config"
	"github.com/dmitrijs2005/hubmirror/internal/dispatch"
	"github.com/dmitrijs2005/hubmirror/internal/health"
	"github.com/dmitrijs2005/hubmirror/internal/hub"
	"github.com/dmitrijs2005/hubmirror/internal/logging"
	"github.com/dmitrijs2005/hubmirror/internal/models"
	"github.com/dmitrijs2005/hubmirror/internal/store"
)

const checkpointWriteTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	manager store.Manager
	hub     hub.Client
	health  *health.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	manager, err := store.NewPostgresManager(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	client := hub.NewHTTPClient(cfg.HubAddr, hub.HTTPClientOpts{
		RequestTimeout: cfg.RequestTimeout,
		PageSize:       cfg.PageSize,
		PollInterval:   cfg.PollInterval,
	})

	return &App{
		config:  cfg,
		logger:  logger,
		manager: manager,
		hub:     client,
		health:  health.NewServer(cfg.HealthAddr, logger),
	}, nil
}

func (app *App) Close() error {
	return app.manager.Close()
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigs
		app.logger.Info(ctx, "shutdown signal received", "signal", sig.String())
		cancelFunc()
	}()
}

// buildPipeline creates the per-kind batchers and the dispatcher feeding
// them. Batchers must be running before anything dispatches.
func (app *App) buildPipeline() (*dispatch.Dispatcher, []*batch.Batcher[*models.Message]) {
	gateway := app.manager.Gateway()

	adders := make(map[models.MessageKind]dispatch.Adder, len(models.Kinds))
	batchers := make([]*batch.Batcher[*models.Message], 0, len(models.Kinds))

	for _, kind := range models.Kinds {
		kind := kind
		cfg := batch.Config{
			MaxSize:    app.config.BatchMaxSize,
			MaxAge:     app.config.BatchMaxAge,
			MaxRetries: app.config.FlushMaxRetries,
		}
		b := batch.New(kind.String(), cfg, app.logger, func(ctx context.Context, items []*models.Message) error {
			return gateway.UpsertMessages(ctx, kind, items)
		})
		adders[kind] = b
		batchers = append(batchers, b)
	}

	dispatcher := dispatch.New(gateway, app.manager.Accounts(), adders, app.logger, app.config.FlushMaxRetries)
	return dispatcher, batchers
}

// Run starts the replication pipeline and blocks until shutdown. It returns
// a non-nil error only for unrecoverable failures; a signal-triggered stop
// drains all batches, persists the checkpoint and returns nil.
func (app *App) Run(ctx context.Context) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.logger.Info(ctx, "starting replicator", "hub", app.config.HubAddr)
	app.initSignalHandler(ctx, cancel)

	dispatcher, batchers := app.buildPipeline()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.health.Run(gctx)
	})
	for _, b := range batchers {
		b := b
		g.Go(func() error {
			return b.Run(gctx)
		})
	}

	sub := NewSubscriber(app.hub, dispatcher, app.logger)

	g.Go(func() error {
		// Subscriber exit, clean or not, releases the batchers into drain.
		defer cancel()

		app.health.SetServing(true)
		from, err := app.startEventID(gctx, dispatcher)
		if err != nil {
			return err
		}
		return sub.Run(gctx, from)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Persist the checkpoint only after every batch drained cleanly, so the
	// stored id never claims more than what actually landed.
	if id, ok := sub.Applied(); ok {
		cctx, ccancel := context.WithTimeout(context.Background(), checkpointWriteTimeout)
		defer ccancel()
		write := func() error {
			return app.manager.Checkpoints().Set(cctx, id)
		}
		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), app.config.FlushMaxRetries)
		if err := backoff.Retry(write, backoff.WithContext(policy, cctx)); err != nil {
			return fmt.Errorf("persisting checkpoint: %w", err)
		}
		app.logger.Info(cctx, "checkpoint persisted", "event_id", id)
	}

	return nil
}

// Backfill runs a one-shot full-history replay and exits.
func (app *App) Backfill(ctx context.Context) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.initSignalHandler(ctx, cancel)

	dispatcher, batchers := app.buildPipeline()

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range batchers {
		b := b
		g.Go(func() error {
			return b.Run(gctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return app.runBackfill(gctx, dispatcher)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startEventID resolves where the live tail should start, triggering a full
// backfill when the checkpoint is missing, invalidated at the origin, or a
// resync was forced.
func (app *App) startEventID(ctx context.Context, dispatcher *dispatch.Dispatcher) (uint64, error) {
	checkpoints := app.manager.Checkpoints()

	if app.config.FullResync {
		app.logger.Info(ctx, "full resync forced")
		if err := app.runBackfill(ctx, dispatcher); err != nil {
			return 0, err
		}
		return checkpoints.Get(ctx)
	}

	cp, err := checkpoints.Get(ctx)
	switch {
	case errors.Is(err, common.ErrNotFound):
		app.logger.Info(ctx, "no checkpoint stored, running backfill")

	case err != nil:
		return 0, err

	default:
		verr := app.validateCheckpoint(ctx, cp)
		if verr == nil {
			return cp, nil
		}
		if !errors.Is(verr, common.ErrCheckpointInvalid) {
			return 0, verr
		}
		app.logger.Warn(ctx, "checkpoint no longer resolvable, running backfill", "event_id", cp)
	}

	if err := app.runBackfill(ctx, dispatcher); err != nil {
		return 0, err
	}
	return checkpoints.Get(ctx)
}

// validateCheckpoint verifies the referenced event is still retrievable at
// the origin; hubs evict events past their retention window.
func (app *App) validateCheckpoint(ctx context.Context, id uint64) error {
	_, err := app.hub.Event(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("event %d: %w", id, common.ErrCheckpointInvalid)
	}
	return err
}

func (app *App) runBackfill(ctx context.Context, dispatcher *dispatch.Dispatcher) error {
	coordinator := backfill.New(app.hub, dispatcher, app.manager.Checkpoints(), app.logger, backfill.Opts{
		MaxFid:         app.config.BackfillMaxFid,
		PagesPerSecond: app.config.BackfillPagesPerSecond,
	})
	return coordinator.Run(ctx)
}
