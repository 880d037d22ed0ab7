package models

// MatchKey addresses an existing row (or the tombstone to create for it) when
// applying a lifecycle flag. Removes carry the natural key of the row they
// target; prunes and revokes address the original message by hash.
type MatchKey interface {
	// Kind reports the table the key resolves against.
	Kind() MessageKind

	matchKey()
}

// ByHash addresses any kind by the content hash of the original add.
type ByHash struct {
	MessageKind MessageKind
	Hash        string
}

// ReactionKey is the reaction natural key: owner plus typed target.
type ReactionKey struct {
	Fid        uint64
	Type       string
	TargetHash string
	TargetURL  string
}

// LinkKey is the link natural key.
type LinkKey struct {
	Fid       uint64
	Type      string
	TargetFid uint64
}

// VerificationKey is the verification natural key.
type VerificationKey struct {
	Fid     uint64
	Address string
}

// SignerKey is the signer natural key.
type SignerKey struct {
	Fid uint64
	Key string
}

// UserDataKey is the profile-field natural key.
type UserDataKey struct {
	Fid  uint64
	Type string
}

func (k ByHash) Kind() MessageKind        { return k.MessageKind }
func (ReactionKey) Kind() MessageKind     { return KindReaction }
func (LinkKey) Kind() MessageKind         { return KindLink }
func (VerificationKey) Kind() MessageKind { return KindVerification }
func (SignerKey) Kind() MessageKind       { return KindSigner }
func (UserDataKey) Kind() MessageKind     { return KindUserData }

func (ByHash) matchKey()          {}
func (ReactionKey) matchKey()     {}
func (LinkKey) matchKey()         {}
func (VerificationKey) matchKey() {}
func (SignerKey) matchKey()       {}
func (UserDataKey) matchKey()     {}
