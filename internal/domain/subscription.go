package domain

import "time"

// NotificationKind selects which events a subscription covers.
type NotificationKind string

const (
	KindNewFiling     NotificationKind = "new_filing"
	KindOpposingSpend NotificationKind = "opposing_spend"
)

// Subscription is a (subscriber, entity, kind) preference row. It is owned
// by the external preference surface and read-only to this pipeline.
type Subscription struct {
	ID           int64            `db:"id"`
	Subscriber   string           `db:"subscriber"` // delivery address
	CanonicalKey string           `db:"canonical_key"`
	Kind         NotificationKind `db:"kind"`
	Enabled      bool             `db:"enabled"`
	CreatedAt    time.Time        `db:"created_at"`
}
