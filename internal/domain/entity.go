package domain

import "time"

// CanonicalEntity is a stable identity merging one or more raw source
// identifiers believed to be the same real-world person or committee.
// Entities are never deleted, only extended with new raw links.
type CanonicalEntity struct {
	ID           int64     `db:"id"`
	Key          string    `db:"canonical_key"` // deterministic slug from normalized name + jurisdiction
	DisplayName  string    `db:"display_name"`
	Role         string    `db:"role"` // most senior role observed across linked raw records
	Jurisdiction string    `db:"jurisdiction"`
	RawIDs       []string  `db:"-"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// EntityPeriodTotal is the read-only financial state surface consumed by the
// dashboard: one row per reporting period for a canonical entity, after
// amendment supersession.
type EntityPeriodTotal struct {
	CanonicalKey  string    `db:"canonical_key"`
	Cycle         int       `db:"cycle"`
	ReportType    string    `db:"report_type"`
	PeriodEnd     time.Time `db:"period_end"`
	Receipts      string    `db:"receipts"`
	Disbursements string    `db:"disbursements"`
	CashOnHand    string    `db:"cash_on_hand"`
}
