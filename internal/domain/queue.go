package domain

import "time"

// QueueStatus is the lifecycle of a queue entry. Entries start pending,
// pass through sending while claimed by a dispatcher, and end sent or
// failed. A failed entry is reclaimable until its attempts exhaust the
// dispatcher's bound, after which it is terminal.
type QueueStatus string

const (
	StatusPending QueueStatus = "pending"
	StatusSending QueueStatus = "sending"
	StatusSent    QueueStatus = "sent"
	StatusFailed  QueueStatus = "failed"
)

// QueueEntry is one pending/sent/failed notification. The unique constraint
// on (subscriber, canonical_key, filing_key) is the sole mechanism
// preventing duplicate delivery.
type QueueEntry struct {
	ID           int64            `db:"id"`
	Subscriber   string           `db:"subscriber"`
	CanonicalKey string           `db:"canonical_key"`
	FilingKey    string           `db:"filing_key"` // FilingKey.String()
	Kind         NotificationKind `db:"kind"`
	Payload      []byte           `db:"payload"`
	Status       QueueStatus      `db:"status"`
	Attempts     int              `db:"attempts"`
	LastError    *string          `db:"last_error"`
	SentAt       *time.Time       `db:"sent_at"`
	CreatedAt    time.Time        `db:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at"`
}

// NotificationPayload is the JSON stored on a queue entry and rendered by
// the dispatcher.
type NotificationPayload struct {
	EntityName    string    `json:"entity_name"`
	CanonicalKey  string    `json:"canonical_key"`
	Cycle         int       `json:"cycle"`
	ReportType    string    `json:"report_type"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	Receipts      string    `json:"receipts"`
	Disbursements string    `json:"disbursements"`
	Amended       bool      `json:"amended"`
}

// Notification is a rendered message handed to the delivery channel.
type Notification struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	FilingKey string `json:"filing_key"`
	Kind      string `json:"kind"`
}
