package domain

import (
	"sort"
	"time"
)

// ErrorKind classifies a failed outbound call. All four kinds are
// transient; a legitimate empty result is not an error and never carries a
// kind.
type ErrorKind string

const (
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindServer    ErrorKind = "server"
)

// ItemFailure records one raw identifier that errored transiently during a
// run, awaiting retry or operator review.
type ItemFailure struct {
	RawID       string    `json:"raw_id"`
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Attempts    int       `json:"attempts"`
	LastErrorAt time.Time `json:"last_error_at"`
}

// Checkpoint is the durable run state for one source. Every raw identifier
// the source ever returned ends a run in exactly one of the processed,
// failure, or no-data sets.
type Checkpoint struct {
	SourceID    string
	Watermark   time.Time // last period end examined
	InFlight    bool
	HeartbeatAt time.Time
	Processed   map[string]bool        // raw IDs fully handled this run
	Failures    map[string]ItemFailure // raw ID -> transient failure, retried first on resume
	NoData      map[string]bool        // raw IDs confirmed empty, never revisited
	UpdatedAt   time.Time
}

// NewCheckpoint returns the empty initial state for a source.
func NewCheckpoint(sourceID string) *Checkpoint {
	return &Checkpoint{
		SourceID:  sourceID,
		Processed: make(map[string]bool),
		Failures:  make(map[string]ItemFailure),
		NoData:    make(map[string]bool),
	}
}

// RecordFailure adds or updates a transient failure for a raw ID,
// incrementing its attempt count.
func (c *Checkpoint) RecordFailure(rawID string, kind ErrorKind, msg string, at time.Time) {
	f := c.Failures[rawID]
	f.RawID = rawID
	f.Kind = kind
	f.Message = msg
	f.Attempts++
	f.LastErrorAt = at
	c.Failures[rawID] = f
}

// MarkProcessed moves a raw ID into the processed set, clearing any prior
// transient failure.
func (c *Checkpoint) MarkProcessed(rawID string) {
	c.Processed[rawID] = true
	delete(c.Failures, rawID)
}

// MarkNoData moves a raw ID into the terminal no-data set.
func (c *Checkpoint) MarkNoData(rawID string) {
	c.NoData[rawID] = true
	delete(c.Failures, rawID)
}

// SortedFailureIDs returns the transient-failure raw IDs in stable order;
// resumed runs retry these before anything else.
func (c *Checkpoint) SortedFailureIDs() []string {
	ids := make([]string, 0, len(c.Failures))
	for id := range c.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Advance moves the watermark forward; it never regresses.
func (c *Checkpoint) Advance(periodEnd time.Time) {
	if periodEnd.After(c.Watermark) {
		c.Watermark = periodEnd
	}
}
