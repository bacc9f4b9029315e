package domain

import "time"

// RunStats holds the outcome of one detection run. PersistentFailures are
// items that exhausted every retry pass; they are reported, never silently
// dropped, and do not make the run itself a failure.
type RunStats struct {
	SourceID           string
	FilersSeen         int
	FilingsFetched     int
	NewEvents          int
	Amendments         int
	Skipped            int
	NoData             int
	Enqueued           int
	WouldNotify        int // dry-run only
	RetryPasses        int
	PersistentFailures []ItemFailure
	Duration           time.Duration
}

// DispatchStats holds the outcome of one dispatcher cycle.
type DispatchStats struct {
	Claimed  int
	Sent     int
	Failed   int
	Duration time.Duration
}
