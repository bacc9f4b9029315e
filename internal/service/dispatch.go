package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"filingwatch/internal/config"
	"filingwatch/internal/domain"
	"filingwatch/internal/metrics"
)

// Dispatcher drains the notification queue: it claims a bounded batch of
// deliverable entries, renders each one, hands it to the delivery channel,
// and records the final status. It runs independently of detection; the
// queue's unique constraint and the claim transition are the only
// synchronization between the two loops.
type Dispatcher struct {
	queue     QueueStore
	deliverer Deliverer
	logger    *slog.Logger
	cfg       config.DispatchConfig
	now       func() time.Time
}

func NewDispatcher(queue QueueStore, deliverer Deliverer, logger *slog.Logger, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		deliverer: deliverer,
		logger:    logger.With("component", "dispatcher"),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context) (*domain.DispatchStats, error) {
	startTime := d.now()

	entries, err := d.queue.Claim(ctx, d.cfg.BatchSize, d.cfg.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim queue entries: %w", err)
	}

	stats := &domain.DispatchStats{Claimed: len(entries)}

	for i := range entries {
		entry := &entries[i]

		notification, err := renderNotification(entry)
		if err != nil {
			// unrenderable payload: burn an attempt so it eventually goes
			// terminal instead of looping forever
			if err := d.fail(ctx, entry, fmt.Sprintf("render: %v", err)); err != nil {
				return stats, err
			}
			stats.Failed++
			continue
		}

		if err := d.deliverer.Send(ctx, notification); err != nil {
			if err := d.fail(ctx, entry, err.Error()); err != nil {
				return stats, err
			}
			stats.Failed++
			d.logger.Warn("delivery failed",
				"entry_id", entry.ID,
				"recipient", entry.Subscriber,
				"attempts", entry.Attempts+1,
				"error", err,
			)
			continue
		}

		if err := d.queue.MarkSent(ctx, entry.ID, d.now()); err != nil {
			return stats, fmt.Errorf("mark entry %d sent: %w", entry.ID, err)
		}
		stats.Sent++
		metrics.Dispatched.WithLabelValues(string(domain.StatusSent)).Inc()
	}

	if err := d.reportTerminalFailures(ctx); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(startTime)
	if stats.Claimed > 0 {
		d.logger.Info("dispatch cycle completed",
			"claimed", stats.Claimed,
			"sent", stats.Sent,
			"failed", stats.Failed,
			"duration", stats.Duration,
		)
	}

	return stats, nil
}

func (d *Dispatcher) fail(ctx context.Context, entry *domain.QueueEntry, message string) error {
	if err := d.queue.MarkFailed(ctx, entry.ID, message); err != nil {
		return fmt.Errorf("mark entry %d failed: %w", entry.ID, err)
	}
	metrics.Dispatched.WithLabelValues(string(domain.StatusFailed)).Inc()
	return nil
}

// reportTerminalFailures surfaces entries that exhausted their attempt
// budget; they stay failed permanently and need operator review.
func (d *Dispatcher) reportTerminalFailures(ctx context.Context) error {
	terminal, err := d.queue.ListTerminalFailures(ctx, d.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("list terminal failures: %w", err)
	}

	for _, e := range terminal {
		d.logger.Error("notification permanently failed",
			"entry_id", e.ID,
			"recipient", e.Subscriber,
			"filing_key", e.FilingKey,
			"attempts", e.Attempts,
			"last_error", stringOrEmpty(e.LastError),
		)
	}
	return nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
