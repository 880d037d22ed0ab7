package models

import "time"

// Account is the registry record for a fid. It is created by a registration
// fact on the origin chain and updated by ownership transfers. Accounts are
// the enumeration key backfill iterates over; they do not take part in the
// Message lifecycle.
type Account struct {
	Fid             uint64
	CustodyAddress  string
	RecoveryAddress string
	RegisteredAt    time.Time
}
