// Package common defines shared sentinel errors used across replicator
// layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrCheckpointInvalid means the persisted checkpoint references an event
	// the origin no longer retains; a full backfill must run before tailing.
	ErrCheckpointInvalid = errors.New("checkpoint no longer resolvable at origin")

	// ErrStreamClosed is returned by an event stream after Close.
	ErrStreamClosed = errors.New("event stream closed")
)
