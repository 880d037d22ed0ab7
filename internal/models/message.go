// Package models defines the replica's view of origin-network facts: the
// Message envelope with its kind-specific bodies, lifecycle markers, and the
// natural keys used to address rows when only a remove/prune/revoke has been
// observed.
package models

import "time"

// MessageKind identifies the entity kind a Message belongs to. Each kind maps
// to its own replica table.
type MessageKind int

const (
	KindCast MessageKind = iota
	KindReaction
	KindLink
	KindVerification
	KindUserData
	KindSigner
)

// Kinds lists every message kind, in backfill iteration order.
var Kinds = []MessageKind{
	KindCast, KindReaction, KindLink, KindVerification, KindUserData, KindSigner,
}

func (k MessageKind) String() string {
	switch k {
	case KindCast:
		return "cast"
	case KindReaction:
		return "reaction"
	case KindLink:
		return "link"
	case KindVerification:
		return "verification"
	case KindUserData:
		return "user_data"
	case KindSigner:
		return "signer"
	default:
		return "unknown"
	}
}

// Flag is one of the three independent lifecycle markers on a Message row.
// Markers accumulate; rows are never physically deleted.
type Flag int

const (
	FlagDeleted Flag = iota // explicit remove observed
	FlagPruned              // origin evicted the message under retention limits
	FlagRevoked             // the signing key behind the message was invalidated
)

func (f Flag) String() string {
	switch f {
	case FlagDeleted:
		return "deleted"
	case FlagPruned:
		return "pruned"
	case FlagRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Column returns the replica column the flag is stored in.
func (f Flag) Column() string {
	switch f {
	case FlagDeleted:
		return "deleted_at"
	case FlagPruned:
		return "pruned_at"
	case FlagRevoked:
		return "revoked_at"
	default:
		return ""
	}
}

// Message is the universal envelope for all mutable origin facts except
// account/registry facts. Hash is the idempotency key for every kind except
// UserData, which is keyed by (fid, type) and keeps only the latest value.
type Message struct {
	Hash      string
	Fid       uint64
	Timestamp time.Time
	Signer    string
	Body      Body

	DeletedAt *time.Time
	PrunedAt  *time.Time
	RevokedAt *time.Time
}

// Kind returns the entity kind derived from the body variant.
func (m *Message) Kind() MessageKind {
	return m.Body.Kind()
}

// Body is the closed set of kind-specific message payloads. Add and remove
// variants are distinct types so routing is an exhaustive type switch rather
// than a string-tagged branch.
type Body interface {
	// Kind reports which entity kind the body mutates.
	Kind() MessageKind

	sealed()
}

// CastBody is the payload of a new short text post.
type CastBody struct {
	Text       string
	Mentions   []uint64
	Embeds     []string
	ParentFid  uint64
	ParentHash string
}

// CastRemoveBody marks the cast identified by TargetHash as deleted.
type CastRemoveBody struct {
	TargetHash string
}

// ReactionBody is a like/recast-style action. Exactly one of TargetHash or
// TargetURL is set; TargetFid accompanies TargetHash.
type ReactionBody struct {
	Type       string
	TargetHash string
	TargetFid  uint64
	TargetURL  string
}

// ReactionRemoveBody undoes the reaction addressed by the same composite key.
type ReactionRemoveBody struct {
	Type       string
	TargetHash string
	TargetURL  string
}

// LinkBody is a directed relationship (e.g. follow) to another account.
type LinkBody struct {
	Type      string
	TargetFid uint64
}

// LinkRemoveBody undoes the link addressed by (fid, type, target fid).
type LinkRemoveBody struct {
	Type      string
	TargetFid uint64
}

// VerificationBody proves control over an external address.
type VerificationBody struct {
	Address   string
	Signature string
	BlockHash string
}

// VerificationRemoveBody retracts the verification for Address.
type VerificationRemoveBody struct {
	Address string
}

// UserDataBody sets the current value of one profile field. Only the latest
// value per (fid, type) is retained.
type UserDataBody struct {
	Type  string
	Value string
}

// SignerBody authorizes a key to produce messages for the account.
type SignerBody struct {
	Key  string
	Name string
}

// SignerRemoveBody invalidates Key. Dispatch additionally cascades a revoked
// marker onto every message the key signed.
type SignerRemoveBody struct {
	Key string
}

func (CastBody) Kind() MessageKind               { return KindCast }
func (CastRemoveBody) Kind() MessageKind         { return KindCast }
func (ReactionBody) Kind() MessageKind           { return KindReaction }
func (ReactionRemoveBody) Kind() MessageKind     { return KindReaction }
func (LinkBody) Kind() MessageKind               { return KindLink }
func (LinkRemoveBody) Kind() MessageKind         { return KindLink }
func (VerificationBody) Kind() MessageKind       { return KindVerification }
func (VerificationRemoveBody) Kind() MessageKind { return KindVerification }
func (UserDataBody) Kind() MessageKind           { return KindUserData }
func (SignerBody) Kind() MessageKind             { return KindSigner }
func (SignerRemoveBody) Kind() MessageKind       { return KindSigner }

func (CastBody) sealed()               {}
func (CastRemoveBody) sealed()         {}
func (ReactionBody) sealed()           {}
func (ReactionRemoveBody) sealed()     {}
func (LinkBody) sealed()               {}
func (LinkRemoveBody) sealed()         {}
func (VerificationBody) sealed()       {}
func (UserDataBody) sealed()           {}
func (SignerBody) sealed()             {}
func (SignerRemoveBody) sealed()       {}
func (VerificationRemoveBody) sealed() {}
