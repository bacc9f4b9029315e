package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"filingwatch/internal/domain"
	"filingwatch/internal/service/mocks"
)

// classifiedErr stands in for a source error that carries a kind.
type classifiedErr struct {
	kind domain.ErrorKind
}

func (e *classifiedErr) Error() string               { return string(e.kind) + " failure" }
func (e *classifiedErr) ErrorKind() domain.ErrorKind { return e.kind }

type DetectServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	source        *mocks.MockSource
	filings       *mocks.MockFilingStore
	entities      *mocks.MockEntityStore
	checkpoints   *mocks.MockCheckpointStore
	subscriptions *mocks.MockSubscriptionStore
	queue         *mocks.MockQueueStore
	txManager     *mocks.MockTransactionManager

	service *DetectService
	cfg     DetectConfig
	logger  *slog.Logger
}

func (s *DetectServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.source = mocks.NewMockSource(s.ctrl)
	s.filings = mocks.NewMockFilingStore(s.ctrl)
	s.entities = mocks.NewMockEntityStore(s.ctrl)
	s.checkpoints = mocks.NewMockCheckpointStore(s.ctrl)
	s.subscriptions = mocks.NewMockSubscriptionStore(s.ctrl)
	s.queue = mocks.NewMockQueueStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)

	s.cfg = DetectConfig{
		MaxRetryPasses:     3,
		CheckpointEvery:    25,
		StalenessThreshold: 30 * time.Minute,
		MaxIndexPages:      20,
	}

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.source.EXPECT().ID().Return("test-source").AnyTimes()

	s.service = s.newService(s.cfg)
}

func (s *DetectServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestDetectServiceTestSuite(t *testing.T) {
	suite.Run(t, new(DetectServiceTestSuite))
}

func (s *DetectServiceTestSuite) newService(cfg DetectConfig) *DetectService {
	return NewDetectService(
		s.source,
		s.filings,
		s.entities,
		s.checkpoints,
		s.subscriptions,
		s.queue,
		s.txManager,
		s.logger,
		cfg,
	)
}

// captureSaves records every checkpoint save so tests can assert on the
// final durable state.
func (s *DetectServiceTestSuite) captureSaves() *[]domain.Checkpoint {
	var saves []domain.Checkpoint
	s.checkpoints.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cp *domain.Checkpoint) error {
			saves = append(saves, *cp)
			return nil
		},
	).AnyTimes()
	return &saves
}

func (s *DetectServiceTestSuite) expectTransaction() {
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
}

func singlePage(filers ...domain.RawFiler) *domain.IndexPage {
	return &domain.IndexPage{Filers: filers, Page: 0, NumPages: 1}
}

func testFiling(rawID string, filedAt time.Time) domain.Filing {
	return domain.Filing{
		RawEntityID:    rawID,
		Cycle:          2026,
		ReportType:     "Q1",
		PeriodStart:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Committee:      "Test Committee",
		Receipts:       decimal.NewFromInt(1000),
		Disbursements:  decimal.NewFromInt(400),
		CashOnHand:     decimal.NewFromInt(600),
		SourceFilingID: "F-1",
		SourceFiledAt:  filedAt,
	}
}

var ossoff = domain.RawFiler{RawID: "S001", FullName: "Ossoff, Jon", Jurisdiction: "GA", Role: "SENATE"}

func (s *DetectServiceTestSuite) TestRun_NewFilingEnqueues() {
	ctx := context.Background()
	filedAt := time.Now().UTC()

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	saves := s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	// unseen raw ID: resolved and persisted before the detail pass
	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{}, nil)
	s.entities.EXPECT().ListOverrides(ctx).Return(map[string]string{}, nil)
	s.entities.EXPECT().UpsertBatch(ctx, gomock.Any()).Return(nil)
	s.entities.EXPECT().DisplayNames(ctx, gomock.Any()).Return(map[string]string{}, nil)

	s.source.EXPECT().FetchFilings(ctx, "S001").Return([]domain.Filing{testFiling("S001", filedAt)}, nil)
	s.filings.EXPECT().GetExistingByEntity(ctx, "S001").Return(map[domain.FilingKey]time.Time{}, nil)

	s.subscriptions.EXPECT().ListEnabledForEntity(ctx, "ossoff-jon-ga", domain.KindNewFiling).Return(
		[]domain.Subscription{{Subscriber: "alice@example.com", CanonicalKey: "ossoff-jon-ga", Kind: domain.KindNewFiling}}, nil,
	)

	s.expectTransaction()
	s.filings.EXPECT().Upsert(ctx, gomock.Any()).Return(int64(100), nil)

	var entry domain.QueueEntry
	s.queue.EXPECT().Enqueue(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.QueueEntry) (bool, error) {
			entry = *e
			return true, nil
		},
	)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, stats.FilersSeen)
	s.Equal(1, stats.FilingsFetched)
	s.Equal(1, stats.NewEvents)
	s.Equal(0, stats.Amendments)
	s.Equal(1, stats.Enqueued)
	s.Empty(stats.PersistentFailures)

	s.Equal("alice@example.com", entry.Subscriber)
	s.Equal("ossoff-jon-ga", entry.CanonicalKey)
	s.Equal("S001|2026|Q1|2026-03-31", entry.FilingKey)
	s.Equal(domain.KindNewFiling, entry.Kind)

	var payload domain.NotificationPayload
	s.Require().NoError(json.Unmarshal(entry.Payload, &payload))
	s.Equal("Jon Ossoff", payload.EntityName)
	s.Equal("1000.00", payload.Receipts)
	s.False(payload.Amended)

	final := (*saves)[len(*saves)-1]
	s.False(final.InFlight)
	s.True(final.Processed["S001"])
	s.Equal(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), final.Watermark)
}

func (s *DetectServiceTestSuite) TestRun_SecondRunIsIdempotent() {
	ctx := context.Background()
	filedAt := time.Now().UTC()
	filing := testFiling("S001", filedAt)

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{"S001": "ossoff-jon-ga"}, nil)
	s.entities.EXPECT().DisplayNames(ctx, []string{"ossoff-jon-ga"}).Return(map[string]string{"ossoff-jon-ga": "Jon Ossoff"}, nil)

	s.source.EXPECT().FetchFilings(ctx, "S001").Return([]domain.Filing{filing}, nil)

	// same natural key, same source timestamp: nothing to write
	s.filings.EXPECT().GetExistingByEntity(ctx, "S001").Return(
		map[domain.FilingKey]time.Time{filing.Key(): filedAt}, nil,
	)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, stats.FilingsFetched)
	s.Equal(0, stats.NewEvents)
	s.Equal(0, stats.Amendments)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Enqueued)
}

func (s *DetectServiceTestSuite) TestRun_AmendmentSupersedes() {
	ctx := context.Background()
	original := time.Now().UTC().Add(-24 * time.Hour)
	amended := time.Now().UTC()
	filing := testFiling("S001", amended)

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{"S001": "ossoff-jon-ga"}, nil)
	s.entities.EXPECT().DisplayNames(ctx, []string{"ossoff-jon-ga"}).Return(map[string]string{"ossoff-jon-ga": "Jon Ossoff"}, nil)

	s.source.EXPECT().FetchFilings(ctx, "S001").Return([]domain.Filing{filing}, nil)
	s.filings.EXPECT().GetExistingByEntity(ctx, "S001").Return(
		map[domain.FilingKey]time.Time{filing.Key(): original}, nil,
	)

	s.subscriptions.EXPECT().ListEnabledForEntity(ctx, "ossoff-jon-ga", domain.KindNewFiling).Return(
		[]domain.Subscription{{Subscriber: "alice@example.com", CanonicalKey: "ossoff-jon-ga", Kind: domain.KindNewFiling}}, nil,
	)

	s.expectTransaction()
	s.filings.EXPECT().Upsert(ctx, gomock.Any()).Return(int64(100), nil)

	var entry domain.QueueEntry
	s.queue.EXPECT().Enqueue(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.QueueEntry) (bool, error) {
			entry = *e
			return true, nil
		},
	)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(0, stats.NewEvents)
	s.Equal(1, stats.Amendments)
	s.Equal(1, stats.Enqueued)

	var payload domain.NotificationPayload
	s.Require().NoError(json.Unmarshal(entry.Payload, &payload))
	s.True(payload.Amended)
}

func (s *DetectServiceTestSuite) TestRun_OutOfOrderAmendmentIsSkipped() {
	ctx := context.Background()
	newest := time.Now().UTC()
	stale := newest.Add(-24 * time.Hour)
	filing := testFiling("S001", stale)

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{"S001": "ossoff-jon-ga"}, nil)
	s.entities.EXPECT().DisplayNames(ctx, []string{"ossoff-jon-ga"}).Return(map[string]string{"ossoff-jon-ga": "Jon Ossoff"}, nil)

	s.source.EXPECT().FetchFilings(ctx, "S001").Return([]domain.Filing{filing}, nil)

	// the recorded row already carries the newer source timestamp; the
	// late-arriving original must not regress it
	s.filings.EXPECT().GetExistingByEntity(ctx, "S001").Return(
		map[domain.FilingKey]time.Time{filing.Key(): newest}, nil,
	)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(0, stats.NewEvents)
	s.Equal(0, stats.Amendments)
	s.Equal(1, stats.Skipped)
}

func (s *DetectServiceTestSuite) TestRun_EmptyResultIsTerminalNoData() {
	ctx := context.Background()

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	saves := s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{"S001": "ossoff-jon-ga"}, nil)
	s.entities.EXPECT().DisplayNames(ctx, []string{"ossoff-jon-ga"}).Return(map[string]string{"ossoff-jon-ga": "Jon Ossoff"}, nil)

	s.source.EXPECT().FetchFilings(ctx, "S001").Return(nil, nil)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, stats.NoData)
	s.Equal(0, stats.FilingsFetched)
	s.Empty(stats.PersistentFailures)

	final := (*saves)[len(*saves)-1]
	s.True(final.NoData["S001"])
	s.False(final.Processed["S001"])
	s.Empty(final.Failures)
}

func (s *DetectServiceTestSuite) TestRun_TimeoutIsNeverRecordedAsNoData() {
	ctx := context.Background()
	filedAt := time.Now().UTC()

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	saves := s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{"S001": "ossoff-jon-ga"}, nil)
	s.entities.EXPECT().DisplayNames(ctx, []string{"ossoff-jon-ga"}).Return(map[string]string{"ossoff-jon-ga": "Jon Ossoff"}, nil)

	// one timeout, then the retry pass succeeds
	s.source.EXPECT().FetchFilings(ctx, "S001").Return(nil, &classifiedErr{kind: domain.ErrorKindTimeout})
	s.source.EXPECT().FetchFilings(ctx, "S001").Return([]domain.Filing{testFiling("S001", filedAt)}, nil)

	s.filings.EXPECT().GetExistingByEntity(ctx, "S001").Return(map[domain.FilingKey]time.Time{}, nil)

	s.subscriptions.EXPECT().ListEnabledForEntity(ctx, "ossoff-jon-ga", domain.KindNewFiling).Return(nil, nil)

	s.expectTransaction()
	s.filings.EXPECT().Upsert(ctx, gomock.Any()).Return(int64(100), nil)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, stats.RetryPasses)
	s.Equal(1, stats.NewEvents)
	s.Equal(0, stats.NoData)
	s.Empty(stats.PersistentFailures)

	final := (*saves)[len(*saves)-1]
	s.True(final.Processed["S001"])
	s.Empty(final.NoData)
	s.Empty(final.Failures)
}

func (s *DetectServiceTestSuite) TestRun_PersistentFailureIsReportedNotDropped() {
	ctx := context.Background()

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	saves := s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{"S001": "ossoff-jon-ga"}, nil)
	s.entities.EXPECT().DisplayNames(ctx, []string{"ossoff-jon-ga"}).Return(map[string]string{"ossoff-jon-ga": "Jon Ossoff"}, nil)

	// initial pass plus every retry pass fails
	s.source.EXPECT().FetchFilings(ctx, "S001").Return(nil, &classifiedErr{kind: domain.ErrorKindRateLimit}).Times(4)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(3, stats.RetryPasses)
	s.Require().Len(stats.PersistentFailures, 1)
	s.Equal("S001", stats.PersistentFailures[0].RawID)
	s.Equal(domain.ErrorKindRateLimit, stats.PersistentFailures[0].Kind)
	s.Equal(4, stats.PersistentFailures[0].Attempts)

	// the failure survives in the checkpoint for the next run to retry first
	final := (*saves)[len(*saves)-1]
	s.Contains(final.Failures, "S001")
	s.False(final.Processed["S001"])
	s.False(final.NoData["S001"])
}

func (s *DetectServiceTestSuite) TestRun_RefusesWhenPriorRunInFlight() {
	ctx := context.Background()

	cp := domain.NewCheckpoint("test-source")
	cp.InFlight = true
	cp.HeartbeatAt = time.Now()

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(cp, nil)

	stats, err := s.service.Run(ctx)

	s.ErrorIs(err, ErrRunInFlight)
	s.Nil(stats)
}

func (s *DetectServiceTestSuite) TestRun_TakesOverStaleRunAndResumes() {
	ctx := context.Background()

	cp := domain.NewCheckpoint("test-source")
	cp.InFlight = true
	cp.HeartbeatAt = time.Now().Add(-time.Hour)
	cp.Processed["S001"] = true
	cp.RecordFailure("S002", domain.ErrorKindServer, "server: 502", time.Now().Add(-time.Hour))

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(cp, nil)
	s.captureSaves()

	warnock := domain.RawFiler{RawID: "S002", FullName: "Warnock, Raphael", Jurisdiction: "GA", Role: "SENATE"}
	brown := domain.RawFiler{RawID: "S003", FullName: "Brown, Sherrod", Jurisdiction: "OH", Role: "SENATE"}

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff, warnock, brown), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001", "S002", "S003"}).Return(map[string]string{
		"S001": "ossoff-jon-ga",
		"S002": "warnock-raphael-ga",
		"S003": "brown-sherrod-oh",
	}, nil)
	s.entities.EXPECT().DisplayNames(ctx, gomock.Any()).Return(map[string]string{}, nil)

	// the processed filer is skipped; the prior failure is retried first
	var order []string
	s.source.EXPECT().FetchFilings(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, rawID string) ([]domain.Filing, error) {
			order = append(order, rawID)
			return nil, nil
		},
	).Times(2)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal([]string{"S002", "S003"}, order)
	s.Equal(2, stats.NoData)
	s.Empty(stats.PersistentFailures)
}

func (s *DetectServiceTestSuite) TestRun_IndexFetchErrorReleasesLease() {
	ctx := context.Background()

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	saves := s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(nil, errors.New("api error"))

	stats, err := s.service.Run(ctx)

	s.Error(err)
	s.Nil(stats)
	s.Contains(err.Error(), "fetch index")

	// acquire marks in flight, release clears it
	s.Require().Len(*saves, 2)
	s.True((*saves)[0].InFlight)
	s.False((*saves)[1].InFlight)
}

func (s *DetectServiceTestSuite) TestRun_QueueWriteFailureAbortsRun() {
	ctx := context.Background()
	filedAt := time.Now().UTC()

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	saves := s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{"S001": "ossoff-jon-ga"}, nil)
	s.entities.EXPECT().DisplayNames(ctx, []string{"ossoff-jon-ga"}).Return(map[string]string{"ossoff-jon-ga": "Jon Ossoff"}, nil)

	s.source.EXPECT().FetchFilings(ctx, "S001").Return([]domain.Filing{testFiling("S001", filedAt)}, nil)
	s.filings.EXPECT().GetExistingByEntity(ctx, "S001").Return(map[domain.FilingKey]time.Time{}, nil)

	s.subscriptions.EXPECT().ListEnabledForEntity(ctx, "ossoff-jon-ga", domain.KindNewFiling).Return(
		[]domain.Subscription{{Subscriber: "alice@example.com", CanonicalKey: "ossoff-jon-ga", Kind: domain.KindNewFiling}}, nil,
	)

	s.expectTransaction()
	s.filings.EXPECT().Upsert(ctx, gomock.Any()).Return(int64(0), errors.New("connection reset"))

	stats, err := s.service.Run(ctx)

	s.Error(err)
	s.NotNil(stats)
	s.Contains(err.Error(), "upsert filing")

	// the lease is released so the next run does not wait out the staleness
	// threshold; the checkpoint store is healthy on this path
	s.Require().Len(*saves, 2)
	s.True((*saves)[0].InFlight)
	s.False((*saves)[1].InFlight)
}

func (s *DetectServiceTestSuite) TestRun_RetriesPriorFailureMissingFromIndex() {
	ctx := context.Background()

	cp := domain.NewCheckpoint("test-source")
	cp.RecordFailure("S002", domain.ErrorKindNetwork, "connection reset", time.Now().Add(-time.Hour))

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(cp, nil)
	saves := s.captureSaves()

	// the failed filer has dropped off the current index page
	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001", "S002"}).Return(map[string]string{
		"S001": "ossoff-jon-ga",
		"S002": "warnock-raphael-ga",
	}, nil)
	s.entities.EXPECT().DisplayNames(ctx, gomock.Any()).Return(map[string]string{}, nil)

	var order []string
	s.source.EXPECT().FetchFilings(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, rawID string) ([]domain.Filing, error) {
			order = append(order, rawID)
			return nil, nil
		},
	).Times(2)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	// the checkpointed failure is retried first, not silently dropped
	s.Equal([]string{"S002", "S001"}, order)
	s.Equal(2, stats.NoData)
	s.Empty(stats.PersistentFailures)

	final := (*saves)[len(*saves)-1]
	s.Empty(final.Failures)
	s.True(final.NoData["S002"])
}

func (s *DetectServiceTestSuite) TestRun_OpposingSpendFansOut() {
	ctx := context.Background()
	filedAt := time.Now().UTC()
	filing := testFiling("S001", filedAt)
	filing.ReportType = "IE-24H"

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{"S001": "ossoff-jon-ga"}, nil)
	s.entities.EXPECT().DisplayNames(ctx, []string{"ossoff-jon-ga"}).Return(map[string]string{"ossoff-jon-ga": "Jon Ossoff"}, nil)

	s.source.EXPECT().FetchFilings(ctx, "S001").Return([]domain.Filing{filing}, nil)
	s.filings.EXPECT().GetExistingByEntity(ctx, "S001").Return(map[domain.FilingKey]time.Time{}, nil)

	s.subscriptions.EXPECT().ListEnabledForEntity(ctx, "ossoff-jon-ga", domain.KindNewFiling).Return(
		[]domain.Subscription{{Subscriber: "alice@example.com", CanonicalKey: "ossoff-jon-ga", Kind: domain.KindNewFiling}}, nil,
	)
	s.subscriptions.EXPECT().ListEnabledForEntity(ctx, "ossoff-jon-ga", domain.KindOpposingSpend).Return(
		[]domain.Subscription{{Subscriber: "bob@example.com", CanonicalKey: "ossoff-jon-ga", Kind: domain.KindOpposingSpend}}, nil,
	)

	s.expectTransaction()
	s.filings.EXPECT().Upsert(ctx, gomock.Any()).Return(int64(100), nil)
	s.queue.EXPECT().Enqueue(ctx, gomock.Any()).Return(true, nil).Times(2)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(2, stats.Enqueued)
}

func (s *DetectServiceTestSuite) TestRun_DryRunBroadcastWritesNothing() {
	ctx := context.Background()
	filedAt := time.Now().UTC()

	cfg := s.cfg
	cfg.DryRun = true
	cfg.BroadcastAddr = "ops@example.com"
	service := s.newService(cfg)

	// checkpoint is read but never written
	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff), nil)

	// resolution stays in memory: no UpsertBatch
	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001"}).Return(map[string]string{}, nil)
	s.entities.EXPECT().ListOverrides(ctx).Return(map[string]string{}, nil)
	s.entities.EXPECT().DisplayNames(ctx, gomock.Any()).Return(map[string]string{}, nil)

	second := testFiling("S001", filedAt)
	second.ReportType = "Q2"
	second.PeriodEnd = time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	s.source.EXPECT().FetchFilings(ctx, "S001").Return([]domain.Filing{testFiling("S001", filedAt), second}, nil)
	s.filings.EXPECT().GetExistingByEntity(ctx, "S001").Return(map[domain.FilingKey]time.Time{}, nil)

	stats, err := service.Run(ctx)

	s.NoError(err)
	s.Equal(2, stats.NewEvents)
	s.Equal(2, stats.WouldNotify)
	s.Equal(0, stats.Enqueued)
}

func (s *DetectServiceTestSuite) TestRun_IncrementalCheckpointSaves() {
	ctx := context.Background()

	cfg := s.cfg
	cfg.CheckpointEvery = 2
	service := s.newService(cfg)

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)

	var saveCount int
	s.checkpoints.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *domain.Checkpoint) error {
			saveCount++
			return nil
		},
	).AnyTimes()

	warnock := domain.RawFiler{RawID: "S002", FullName: "Warnock, Raphael", Jurisdiction: "GA", Role: "SENATE"}
	brown := domain.RawFiler{RawID: "S003", FullName: "Brown, Sherrod", Jurisdiction: "OH", Role: "SENATE"}

	s.source.EXPECT().FetchIndex(ctx, 0).Return(singlePage(ossoff, warnock, brown), nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, gomock.Any()).Return(map[string]string{
		"S001": "ossoff-jon-ga",
		"S002": "warnock-raphael-ga",
		"S003": "brown-sherrod-oh",
	}, nil)
	s.entities.EXPECT().DisplayNames(ctx, gomock.Any()).Return(map[string]string{}, nil)

	s.source.EXPECT().FetchFilings(ctx, gomock.Any()).Return(nil, nil).Times(3)

	_, err := service.Run(ctx)

	s.NoError(err)
	// acquire, one incremental save after the second item, final
	s.Equal(3, saveCount)
}

func (s *DetectServiceTestSuite) TestRun_FetchesAllIndexPages() {
	ctx := context.Background()

	warnock := domain.RawFiler{RawID: "S002", FullName: "Warnock, Raphael", Jurisdiction: "GA", Role: "SENATE"}

	s.checkpoints.EXPECT().Get(ctx, "test-source").Return(domain.NewCheckpoint("test-source"), nil)
	s.captureSaves()

	s.source.EXPECT().FetchIndex(ctx, 0).Return(&domain.IndexPage{Filers: []domain.RawFiler{ossoff}, Page: 0, NumPages: 2}, nil)
	s.source.EXPECT().FetchIndex(ctx, 1).Return(&domain.IndexPage{Filers: []domain.RawFiler{warnock}, Page: 1, NumPages: 2}, nil)

	s.entities.EXPECT().KeysForRawIDs(ctx, []string{"S001", "S002"}).Return(map[string]string{
		"S001": "ossoff-jon-ga",
		"S002": "warnock-raphael-ga",
	}, nil)
	s.entities.EXPECT().DisplayNames(ctx, gomock.Any()).Return(map[string]string{}, nil)

	s.source.EXPECT().FetchFilings(ctx, gomock.Any()).Return(nil, nil).Times(2)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(2, stats.FilersSeen)
}
