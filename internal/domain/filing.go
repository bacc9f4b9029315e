package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Filing is one reporting period for one raw source entity. Rows are
// immutable once written except for amendment supersession: a later filing
// with the same natural key and a newer SourceFiledAt replaces the earlier
// one.
type Filing struct {
	ID             int64           `db:"id"`
	RawEntityID    string          `db:"raw_entity_id"` // source-assigned filer identifier
	Cycle          int             `db:"cycle"`
	ReportType     string          `db:"report_type"` // e.g. "Q1", "Q3", "PRE-GENERAL", "IE-24H"
	PeriodStart    time.Time       `db:"period_start"`
	PeriodEnd      time.Time       `db:"period_end"`
	Committee      string          `db:"committee"` // committee/role designation
	Receipts       decimal.Decimal `db:"receipts"`  // period totals, not cumulative
	Disbursements  decimal.Decimal `db:"disbursements"`
	CashOnHand     decimal.Decimal `db:"cash_on_hand"`
	SourceFilingID string          `db:"source_filing_id"` // for amendment tracking
	SourceFiledAt  time.Time       `db:"source_filed_at"`  // recency authority, not arrival order
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// FilingKey is the natural key used for dedup and amendment tracking.
type FilingKey struct {
	RawEntityID string
	Cycle       int
	ReportType  string
	PeriodEnd   time.Time
}

func (f *Filing) Key() FilingKey {
	return FilingKey{
		RawEntityID: f.RawEntityID,
		Cycle:       f.Cycle,
		ReportType:  f.ReportType,
		// normalized so keys built from DB rows and from fetched records
		// compare equal as map keys
		PeriodEnd: f.PeriodEnd.UTC().Truncate(24 * time.Hour),
	}
}

// String renders the key in the stable form stored on queue entries.
func (k FilingKey) String() string {
	return fmt.Sprintf("%s|%d|%s|%s", k.RawEntityID, k.Cycle, k.ReportType, k.PeriodEnd.UTC().Format("2006-01-02"))
}

// ChangeKind distinguishes a first-seen filing from an amendment that
// supersedes a previously recorded one.
type ChangeKind string

const (
	ChangeNew     ChangeKind = "new"
	ChangeAmended ChangeKind = "amended"
)

// FilingEvent is the change detector's output: one filing that was not
// previously known, or one that supersedes a known filing.
type FilingEvent struct {
	Filing Filing
	Kind   ChangeKind
}

// RawFiler is one entry from the source's filer index, before canonical
// resolution.
type RawFiler struct {
	RawID        string `json:"id"`
	FullName     string `json:"name"`
	Jurisdiction string `json:"state"`
	Role         string `json:"office"`
	Committee    string `json:"committee"`
}

// IndexPage is one page of the filer index.
type IndexPage struct {
	Filers   []RawFiler
	Page     int
	NumPages int
}
