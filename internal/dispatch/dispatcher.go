// Package dispatch routes origin events to the write path: adds go to the
// per-kind batchers, removes/prunes/revokes are applied immediately as flag
// updates, and account events go to the registry store. Keeping removes out
// of the add queue means a remove can never be dropped by a failed add batch
// or overtaken by a delayed flush.
package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrijs2005/hubmirror/internal/hub"
	"github.com/dmitrijs2005/hubmirror/internal/logging"
	"github.com/dmitrijs2005/hubmirror/internal/models"
	"github.com/dmitrijs2005/hubmirror/internal/store"
)

// Adder is the enqueue side of a batcher.
type Adder interface {
	Add(ctx context.Context, m *models.Message) error
}

type Dispatcher struct {
	gateway    store.Gateway
	accounts   store.Accounts
	adders     map[models.MessageKind]Adder
	logger     logging.Logger
	maxRetries uint64
}

func New(gateway store.Gateway, accounts store.Accounts, adders map[models.MessageKind]Adder, logger logging.Logger, maxRetries uint64) *Dispatcher {
	if maxRetries == 0 {
		maxRetries = 5
	}
	return &Dispatcher{
		gateway:    gateway,
		accounts:   accounts,
		adders:     adders,
		logger:     logger.With("module", "dispatcher"),
		maxRetries: maxRetries,
	}
}

// Dispatch applies one event. Unknown categories and payloads are logged and
// skipped; a non-nil error means an idempotent write kept failing past the
// retry budget and the pipeline should stop.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *hub.Event) error {
	switch ev.Category {
	case hub.MergeMessage:
		if ev.Message == nil {
			d.logger.Warn(ctx, "unrecognized message payload", "event_id", ev.ID)
			return nil
		}
		return d.mergeMessage(ctx, ev.Message)

	case hub.PruneMessage:
		if ev.Message == nil {
			d.logger.Warn(ctx, "unrecognized prune payload", "event_id", ev.ID)
			return nil
		}
		m := ev.Message
		return d.immediate(ctx, func() error {
			return d.gateway.SetFlag(ctx, models.ByHash{MessageKind: m.Kind(), Hash: m.Hash}, models.FlagPruned, m.Timestamp)
		})

	case hub.RevokeMessage:
		if ev.Message == nil {
			d.logger.Warn(ctx, "unrecognized revoke payload", "event_id", ev.ID)
			return nil
		}
		m := ev.Message
		return d.immediate(ctx, func() error {
			return d.gateway.SetFlag(ctx, models.ByHash{MessageKind: m.Kind(), Hash: m.Hash}, models.FlagRevoked, m.Timestamp)
		})

	case hub.MergeAccountEvent:
		if ev.Account == nil {
			d.logger.Warn(ctx, "unrecognized account payload", "event_id", ev.ID)
			return nil
		}
		return d.accountEvent(ctx, ev)

	default:
		d.logger.Warn(ctx, "unhandled event category", "event_id", ev.ID)
		return nil
	}
}

func (d *Dispatcher) mergeMessage(ctx context.Context, m *models.Message) error {
	switch b := m.Body.(type) {
	case models.CastBody, models.ReactionBody, models.LinkBody,
		models.VerificationBody, models.UserDataBody, models.SignerBody:
		adder, ok := d.adders[m.Kind()]
		if !ok {
			d.logger.Warn(ctx, "no batcher for kind", "kind", m.Kind().String())
			return nil
		}
		return adder.Add(ctx, m)

	case models.CastRemoveBody:
		return d.setFlag(ctx, models.ByHash{MessageKind: models.KindCast, Hash: b.TargetHash}, m)

	case models.ReactionRemoveBody:
		key := models.ReactionKey{Fid: m.Fid, Type: b.Type, TargetHash: b.TargetHash, TargetURL: b.TargetURL}
		return d.setFlag(ctx, key, m)

	case models.LinkRemoveBody:
		return d.setFlag(ctx, models.LinkKey{Fid: m.Fid, Type: b.Type, TargetFid: b.TargetFid}, m)

	case models.VerificationRemoveBody:
		return d.setFlag(ctx, models.VerificationKey{Fid: m.Fid, Address: b.Address}, m)

	case models.SignerRemoveBody:
		// Signer removal also revokes everything the key produced.
		return d.immediate(ctx, func() error {
			return d.gateway.RevokeSigner(ctx, m.Fid, b.Key, m.Timestamp)
		})

	default:
		d.logger.Warn(ctx, "unhandled message body", "kind", m.Kind().String())
		return nil
	}
}

// setFlag applies a remove unbatched and unconditionally: a missing add
// leaves a tombstone that the add later reconciles into.
func (d *Dispatcher) setFlag(ctx context.Context, key models.MatchKey, m *models.Message) error {
	return d.immediate(ctx, func() error {
		return d.gateway.SetFlag(ctx, key, models.FlagDeleted, m.Timestamp)
	})
}

func (d *Dispatcher) accountEvent(ctx context.Context, ev *hub.Event) error {
	acc := ev.Account
	switch acc.Type {
	case hub.AccountRegister:
		return d.immediate(ctx, func() error {
			return d.accounts.Upsert(ctx, &models.Account{
				Fid:             acc.Fid,
				CustodyAddress:  acc.CustodyAddress,
				RecoveryAddress: acc.RecoveryAddress,
				RegisteredAt:    time.Unix(acc.Timestamp, 0).UTC(),
			})
		})

	case hub.AccountTransfer:
		return d.immediate(ctx, func() error {
			return d.accounts.TransferOwnership(ctx, acc.Fid, acc.CustodyAddress)
		})

	default:
		d.logger.Warn(ctx, "unhandled account event type", "event_id", ev.ID, "fid", acc.Fid)
		return nil
	}
}

// immediate runs an unbatched idempotent write under the same bounded-retry
// policy the batchers use.
func (d *Dispatcher) immediate(ctx context.Context, op func() error) error {
	notify := func(err error, wait time.Duration) {
		d.logger.Warn(ctx, "write failed, retrying", "wait", wait.String(), "error", err.Error())
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxRetries)
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}
