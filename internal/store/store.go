// Package store persists the replica: one table per message kind with
// accumulate-only lifecycle markers, an accounts table, and the single-row
// checkpoint. All writes are idempotent so any event can be re-applied after
// a crash or during backfill/tail overlap without changing the final state.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/hubmirror/internal/models"
)

// Gateway is the bulk idempotent write surface the dispatcher and batchers
// use. Conflict keys are the content hash for most kinds and (fid, type) for
// user data, which is replace-on-conflict by design.
type Gateway interface {
	// UpsertMessages applies one batch of adds for a single kind. Re-applying
	// the same message is a no-op; lifecycle markers on existing rows are
	// never touched by an add.
	UpsertMessages(ctx context.Context, kind models.MessageKind, msgs []*models.Message) error

	// SetFlag stamps one lifecycle marker on the row addressed by key. When
	// the key is a natural key and no row exists yet, a tombstone placeholder
	// is created so a late-arriving add reconciles into it. The first stamp
	// wins; repeated calls are no-ops.
	SetFlag(ctx context.Context, key models.MatchKey, flag models.Flag, ts time.Time) error

	// CascadeFlag stamps the marker on every message, of every kind, that was
	// produced by the given signing key.
	CascadeFlag(ctx context.Context, signer string, flag models.Flag, ts time.Time) error

	// RevokeSigner marks the signer row deleted and cascades a revoked marker
	// onto everything the key signed, as one atomic step.
	RevokeSigner(ctx context.Context, fid uint64, key string, ts time.Time) error
}

// Checkpoints stores the last origin event id fully applied locally. The
// stored value never decreases through Set; Reset is the explicit override
// used when a checkpoint has been invalidated and backfill re-snapshots the
// origin head.
type Checkpoints interface {
	// Get returns the checkpoint, or common.ErrNotFound when none was stored.
	Get(ctx context.Context) (uint64, error)

	// Set durably stores id unless a larger value is already present.
	Set(ctx context.Context, id uint64) error

	// Reset durably stores id unconditionally.
	Reset(ctx context.Context, id uint64) error
}

// Accounts maintains fid registry records.
type Accounts interface {
	Upsert(ctx context.Context, acc *models.Account) error

	// TransferOwnership moves custody of fid to a new address, creating a
	// placeholder record when the registration has not been seen yet.
	TransferOwnership(ctx context.Context, fid uint64, custodyAddress string) error
}

// Manager bundles the replica's repositories over one connection pool.
type Manager interface {
	Conn() *sql.DB
	RunMigrations(ctx context.Context) error
	Gateway() Gateway
	Checkpoints() Checkpoints
	Accounts() Accounts
	Close() error
}
