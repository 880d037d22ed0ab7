// Package hub talks to the origin hub: a resumable event stream for live
// tailing plus the paginated listing calls backfill needs. The hub assigns
// strictly increasing event ids; the client delivers events exactly as
// received and leaves deduplication to the idempotent write path.
package hub

import (
	"context"

	"github.com/dmitrijs2005/hubmirror/internal/models"
)

// EventCategory is the closed set of origin event categories.
type EventCategory int

const (
	CategoryUnknown EventCategory = iota
	MergeMessage                  // a new fact was merged
	PruneMessage                  // the origin evicted a fact under retention limits
	RevokeMessage                 // a signing key behind a fact was invalidated
	MergeAccountEvent             // registration/ownership fact from the registry
)

func (c EventCategory) String() string {
	switch c {
	case MergeMessage:
		return "merge_message"
	case PruneMessage:
		return "prune_message"
	case RevokeMessage:
		return "revoke_message"
	case MergeAccountEvent:
		return "merge_account_event"
	default:
		return "unknown"
	}
}

// AccountEventType distinguishes registry facts.
type AccountEventType int

const (
	AccountEventUnknown AccountEventType = iota
	AccountRegister
	AccountTransfer
)

// AccountEvent is a registration or ownership-transfer fact for a fid.
type AccountEvent struct {
	Fid             uint64
	Type            AccountEventType
	CustodyAddress  string
	RecoveryAddress string
	Timestamp       int64
}

// Event is one entry of the origin's append-only log. Message is set for the
// three message categories; Account for MergeAccountEvent. A nil Message on a
// message category means the payload type was not recognized; such events are
// logged and skipped downstream, never fatal.
type Event struct {
	ID       uint64
	Category EventCategory
	Message  *models.Message
	Account  *AccountEvent
}

// EventStream is a pull-based view of the subscription. Next blocks until an
// event is available, the context is done, or the stream fails. The stream
// never retries internally; a transport error terminates it and restart
// policy belongs to the caller.
type EventStream interface {
	Next(ctx context.Context) (*Event, error)
	Close() error
}

// Client is the origin hub RPC surface used by the replicator.
type Client interface {
	// HeadEventID returns the id of the most recent event in the origin log.
	HeadEventID(ctx context.Context) (uint64, error)

	// Subscribe opens the event stream starting just after fromID.
	// fromID zero starts from the oldest retained event.
	Subscribe(ctx context.Context, fromID uint64) (EventStream, error)

	// Event fetches a single event by id. Returns common.ErrNotFound when the
	// origin no longer retains it, which invalidates any checkpoint at or
	// before that id.
	Event(ctx context.Context, id uint64) (*Event, error)

	// Fids returns one page of known account ids plus the token for the next
	// page; an empty token means the listing is exhausted.
	Fids(ctx context.Context, pageToken string) ([]uint64, string, error)

	// MessagesByFid returns one page of an account's history for one kind.
	MessagesByFid(ctx context.Context, fid uint64, kind models.MessageKind, pageToken string) ([]*models.Message, string, error)
}
