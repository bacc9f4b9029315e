package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"filingwatch/internal/domain"
	"filingwatch/internal/entity"
	"filingwatch/internal/metrics"
)

// ErrRunInFlight means another detection run appears to be alive: the
// checkpoint is marked in-flight with a heartbeat newer than the staleness
// threshold. The caller skips this tick rather than racing it.
var ErrRunInFlight = errors.New("detection run already in flight")

// DetectConfig is the per-run configuration assembled from the config file
// and operator flags.
type DetectConfig struct {
	MaxRetryPasses     int
	CheckpointEvery    int
	StalenessThreshold time.Duration
	MaxIndexPages      int
	DryRun             bool // compute everything, write nothing
	BroadcastAddr      string
}

// fatalError marks a checkpoint or queue write failure: the run can no
// longer guarantee correctness and must abort. Everything else is local to
// one item and never aborts the run.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

type kindedError interface {
	ErrorKind() domain.ErrorKind
}

func kindOf(err error) domain.ErrorKind {
	var ke kindedError
	if errors.As(err, &ke) {
		return ke.ErrorKind()
	}
	return domain.ErrorKindServer
}

// DetectService drives one detection run: fetch the filer index, resolve
// canonical entities for unseen raw IDs, fetch per-filer filings under the
// shared rate budget, emit change events, and enqueue notifications for
// resolved subscribers.
type DetectService struct {
	source        Source
	filings       FilingStore
	entities      EntityStore
	checkpoints   CheckpointStore
	subscriptions SubscriptionStore
	queue         QueueStore
	txManager     TransactionManager
	logger        *slog.Logger
	cfg           DetectConfig
	now           func() time.Time
}

func NewDetectService(
	source Source,
	filings FilingStore,
	entities EntityStore,
	checkpoints CheckpointStore,
	subscriptions SubscriptionStore,
	queue QueueStore,
	txManager TransactionManager,
	logger *slog.Logger,
	cfg DetectConfig,
) *DetectService {
	return &DetectService{
		source:        source,
		filings:       filings,
		entities:      entities,
		checkpoints:   checkpoints,
		subscriptions: subscriptions,
		queue:         queue,
		txManager:     txManager,
		logger:        logger.With("source", source.ID()),
		cfg:           cfg,
		now:           time.Now,
	}
}

func (s *DetectService) Run(ctx context.Context) (*domain.RunStats, error) {
	startTime := s.now()
	s.logger.Info("starting detection run",
		"dry_run", s.cfg.DryRun,
		"broadcast", s.cfg.BroadcastAddr != "",
		"max_retry_passes", s.cfg.MaxRetryPasses,
	)

	cp, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.RunStats{SourceID: s.source.ID()}

	filers, err := s.fetchIndex(ctx)
	if err != nil {
		s.release(ctx, cp)
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	stats.FilersSeen = len(filers)

	keys, names, err := s.resolveEntities(ctx, filers, cp)
	if err != nil {
		s.release(ctx, cp)
		return nil, fmt.Errorf("resolve entities: %w", err)
	}

	work := s.buildWorkList(cp, filers)
	s.logger.Info("work list built",
		"filers", len(filers),
		"to_process", len(work),
		"retrying_first", len(cp.Failures),
		"no_data_skipped", len(cp.NoData),
	)

	for pass := 0; pass <= s.cfg.MaxRetryPasses && len(work) > 0; pass++ {
		if pass > 0 {
			stats.RetryPasses++
			s.logger.Info("retry pass over failed items", "pass", pass, "items", len(work))
		}

		var stillFailed []string
		sinceSave := 0
		for _, rawID := range work {
			err := s.processFiler(ctx, rawID, keys, names, cp, stats)
			if err != nil {
				var fe *fatalError
				if errors.As(err, &fe) {
					// queue/filing writes failed but the checkpoint store is
					// still healthy; release so the next run starts at once
					s.release(ctx, cp)
					return stats, fe.err
				}
				kind := kindOf(err)
				cp.RecordFailure(rawID, kind, err.Error(), s.now())
				stillFailed = append(stillFailed, rawID)
				metrics.FetchErrors.WithLabelValues(string(kind)).Inc()
				s.logger.Warn("filer failed for pass",
					"raw_id", rawID,
					"kind", kind,
					"error", err,
				)
				continue
			}

			sinceSave++
			if sinceSave%s.cfg.CheckpointEvery == 0 {
				if err := s.saveCheckpoint(ctx, cp); err != nil {
					return stats, err
				}
			}
		}
		work = stillFailed
	}

	for _, rawID := range work {
		stats.PersistentFailures = append(stats.PersistentFailures, cp.Failures[rawID])
		metrics.PersistentFailures.Inc()
	}

	cp.InFlight = false
	if err := s.saveCheckpoint(ctx, cp); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(startTime)
	s.logRunOutcome(stats)

	return stats, nil
}

// acquire loads the checkpoint and takes the implicit lease. A fresh run
// clears the per-run processed set; transient failures and the terminal
// no-data set survive across runs.
func (s *DetectService) acquire(ctx context.Context) (*domain.Checkpoint, error) {
	cp, err := s.checkpoints.Get(ctx, s.source.ID())
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	if cp.InFlight {
		age := s.now().Sub(cp.HeartbeatAt)
		if age < s.cfg.StalenessThreshold {
			s.logger.Warn("prior run still in flight, refusing to start",
				"heartbeat_age", age,
				"staleness_threshold", s.cfg.StalenessThreshold,
			)
			return nil, ErrRunInFlight
		}
		s.logger.Warn("taking over stale in-flight run, resuming from checkpoint",
			"heartbeat_age", age,
			"processed", len(cp.Processed),
			"failed", len(cp.Failures),
		)
	} else {
		cp.Processed = make(map[string]bool)
	}

	cp.InFlight = true
	if err := s.saveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// release clears the lease after a run-level fetch failure so the next tick
// does not have to wait out the staleness threshold.
func (s *DetectService) release(ctx context.Context, cp *domain.Checkpoint) {
	cp.InFlight = false
	if err := s.saveCheckpoint(ctx, cp); err != nil {
		s.logger.Error("failed to release checkpoint lease", "error", err)
	}
}

func (s *DetectService) saveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	if s.cfg.DryRun {
		return nil
	}
	cp.HeartbeatAt = s.now()
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *DetectService) fetchIndex(ctx context.Context) ([]domain.RawFiler, error) {
	var filers []domain.RawFiler

	for page := 0; page < s.cfg.MaxIndexPages; page++ {
		resp, err := s.source.FetchIndex(ctx, page)
		if err != nil {
			return nil, err
		}

		filers = append(filers, resp.Filers...)

		if page >= resp.NumPages-1 {
			break
		}
	}

	return filers, nil
}

// resolveEntities runs the batch canonical resolution for raw IDs that have
// no link yet, then returns raw-ID-to-key and key-to-display-name maps for
// the whole index plus any checkpointed failures no longer listed by it.
// In dry-run mode the resolution happens in memory only.
func (s *DetectService) resolveEntities(ctx context.Context, filers []domain.RawFiler, cp *domain.Checkpoint) (map[string]string, map[string]string, error) {
	rawIDs := make([]string, 0, len(filers)+len(cp.Failures))
	inIndex := make(map[string]bool, len(filers))
	for _, f := range filers {
		rawIDs = append(rawIDs, f.RawID)
		inIndex[f.RawID] = true
	}
	// prior failures are still retried when they drop off the index; their
	// canonical links were written the run they first appeared
	for _, id := range cp.SortedFailureIDs() {
		if !inIndex[id] {
			rawIDs = append(rawIDs, id)
		}
	}

	keys, err := s.entities.KeysForRawIDs(ctx, rawIDs)
	if err != nil {
		return nil, nil, err
	}

	var unseen []domain.RawFiler
	for _, f := range filers {
		if _, ok := keys[f.RawID]; !ok {
			unseen = append(unseen, f)
		}
	}

	names := make(map[string]string)
	if len(unseen) > 0 {
		overrides, err := s.entities.ListOverrides(ctx)
		if err != nil {
			return nil, nil, err
		}

		resolved := entity.Resolve(unseen, overrides)
		s.logger.Info("resolved new canonical entities",
			"unseen_raw_ids", len(unseen),
			"entities", len(resolved),
		)

		if !s.cfg.DryRun {
			if err := s.entities.UpsertBatch(ctx, resolved); err != nil {
				return nil, nil, err
			}
		}
		for _, ent := range resolved {
			names[ent.Key] = ent.DisplayName
			for _, rawID := range ent.RawIDs {
				keys[rawID] = ent.Key
			}
		}
	}

	allKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		allKeys = append(allKeys, k)
	}
	stored, err := s.entities.DisplayNames(ctx, allKeys)
	if err != nil {
		return nil, nil, err
	}
	for k, name := range stored {
		names[k] = name
	}

	return keys, names, nil
}

// buildWorkList orders this run's items: previously failed raw IDs first
// (even when the current index no longer lists them), then the rest of the
// index. Processed and no-data IDs are skipped.
func (s *DetectService) buildWorkList(cp *domain.Checkpoint, filers []domain.RawFiler) []string {
	var work []string
	queued := make(map[string]bool)
	for _, f := range cp.SortedFailureIDs() {
		if !cp.Processed[f] && !cp.NoData[f] {
			work = append(work, f)
			queued[f] = true
		}
	}
	for _, f := range filers {
		if queued[f.RawID] || cp.Processed[f.RawID] || cp.NoData[f.RawID] {
			continue
		}
		work = append(work, f.RawID)
		queued[f.RawID] = true
	}
	return work
}

// processFiler fetches one filer's filings, detects changes against the
// recorded state, and applies the resulting events. A classified fetch
// error is returned for the pass loop to record; a legitimate empty result
// lands the filer in the terminal no-data set.
func (s *DetectService) processFiler(
	ctx context.Context,
	rawID string,
	keys, names map[string]string,
	cp *domain.Checkpoint,
	stats *domain.RunStats,
) error {
	filings, err := s.source.FetchFilings(ctx, rawID)
	if err != nil {
		return err
	}

	if len(filings) == 0 {
		cp.MarkNoData(rawID)
		stats.NoData++
		return nil
	}

	stats.FilingsFetched += len(filings)
	metrics.FilingsFetched.Add(float64(len(filings)))

	existing, err := s.filings.GetExistingByEntity(ctx, rawID)
	if err != nil {
		return err
	}

	var events []domain.FilingEvent
	for _, f := range filings {
		key := f.Key()
		prior, known := existing[key]
		switch {
		case !known:
			events = append(events, domain.FilingEvent{Filing: f, Kind: domain.ChangeNew})
		case f.SourceFiledAt.After(prior):
			events = append(events, domain.FilingEvent{Filing: f, Kind: domain.ChangeAmended})
		default:
			// same key, same or older source timestamp: a page fetched
			// twice is a no-op, not an event
			stats.Skipped++
		}
		cp.Advance(f.PeriodEnd)
	}

	for i := range events {
		if err := s.applyEvent(ctx, &events[i], keys[rawID], names, stats); err != nil {
			return err
		}
	}

	cp.MarkProcessed(rawID)
	return nil
}

// applyEvent persists one change event and enqueues its notifications in a
// single transaction. Write failures here are run-fatal.
func (s *DetectService) applyEvent(
	ctx context.Context,
	ev *domain.FilingEvent,
	canonicalKey string,
	names map[string]string,
	stats *domain.RunStats,
) error {
	recipients, err := s.resolveRecipients(ctx, ev, canonicalKey)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(domain.NotificationPayload{
		EntityName:    names[canonicalKey],
		CanonicalKey:  canonicalKey,
		Cycle:         ev.Filing.Cycle,
		ReportType:    ev.Filing.ReportType,
		PeriodStart:   ev.Filing.PeriodStart,
		PeriodEnd:     ev.Filing.PeriodEnd,
		Receipts:      ev.Filing.Receipts.StringFixed(2),
		Disbursements: ev.Filing.Disbursements.StringFixed(2),
		Amended:       ev.Kind == domain.ChangeAmended,
	})
	if err != nil {
		return err
	}

	filingKey := ev.Filing.Key().String()

	if s.cfg.DryRun {
		stats.WouldNotify += len(recipients)
		for _, r := range recipients {
			s.logger.Info("would notify",
				"recipient", r.Subscriber,
				"kind", r.Kind,
				"filing_key", filingKey,
			)
		}
		s.countEvent(ev, stats)
		return nil
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.filings.Upsert(txCtx, &ev.Filing); err != nil {
			return fmt.Errorf("upsert filing: %w", err)
		}

		for _, r := range recipients {
			inserted, err := s.queue.Enqueue(txCtx, &domain.QueueEntry{
				Subscriber:   r.Subscriber,
				CanonicalKey: canonicalKey,
				FilingKey:    filingKey,
				Kind:         r.Kind,
				Payload:      payload,
			})
			if err != nil {
				return fmt.Errorf("enqueue notification: %w", err)
			}
			if inserted {
				stats.Enqueued++
				metrics.Enqueued.Inc()
			}
		}
		return nil
	})
	if err != nil {
		return &fatalError{err: err}
	}

	s.countEvent(ev, stats)
	return nil
}

// resolveRecipients maps an event to (subscriber, kind) pairs. Broadcast
// mode targets the operator address for every event but keeps the same
// dedup key, so repeated runs still cannot re-notify.
func (s *DetectService) resolveRecipients(ctx context.Context, ev *domain.FilingEvent, canonicalKey string) ([]domain.Subscription, error) {
	if s.cfg.BroadcastAddr != "" {
		return []domain.Subscription{{
			Subscriber:   s.cfg.BroadcastAddr,
			CanonicalKey: canonicalKey,
			Kind:         domain.KindNewFiling,
		}}, nil
	}

	kinds := []domain.NotificationKind{domain.KindNewFiling}
	if isOpposingSpend(ev.Filing.ReportType) {
		kinds = append(kinds, domain.KindOpposingSpend)
	}

	var recipients []domain.Subscription
	for _, kind := range kinds {
		subs, err := s.subscriptions.ListEnabledForEntity(ctx, canonicalKey, kind)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, subs...)
	}
	return recipients, nil
}

// isOpposingSpend recognizes independent-expenditure notice reports, which
// additionally fan out to opposing-spend subscribers.
func isOpposingSpend(reportType string) bool {
	return reportType == "IE-24H" || reportType == "IE-48H"
}

func (s *DetectService) countEvent(ev *domain.FilingEvent, stats *domain.RunStats) {
	if ev.Kind == domain.ChangeAmended {
		stats.Amendments++
	} else {
		stats.NewEvents++
	}
	metrics.EventsDetected.WithLabelValues(string(ev.Kind)).Inc()
}

func (s *DetectService) logRunOutcome(stats *domain.RunStats) {
	if len(stats.PersistentFailures) == 0 {
		s.logger.Info("detection run completed",
			"filers", stats.FilersSeen,
			"filings", stats.FilingsFetched,
			"new", stats.NewEvents,
			"amendments", stats.Amendments,
			"skipped", stats.Skipped,
			"no_data", stats.NoData,
			"enqueued", stats.Enqueued,
			"would_notify", stats.WouldNotify,
			"duration", stats.Duration,
		)
		return
	}

	// the run still completes; survivors of every retry pass are enumerated
	// for manual follow-up, never silently dropped
	for _, f := range stats.PersistentFailures {
		s.logger.Error("persistent failure, needs manual inspection",
			"raw_id", f.RawID,
			"kind", f.Kind,
			"attempts", f.Attempts,
			"last_error", f.Message,
		)
	}
	s.logger.Warn("detection run completed with persistent failures",
		"persistent_failures", len(stats.PersistentFailures),
		"new", stats.NewEvents,
		"amendments", stats.Amendments,
		"enqueued", stats.Enqueued,
		"duration", stats.Duration,
	)
}
