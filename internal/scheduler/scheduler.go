package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"filingwatch/internal/domain"
	"filingwatch/internal/service"
)

// Detector runs one detection pass.
type Detector interface {
	Run(ctx context.Context) (*domain.RunStats, error)
}

// Dispatcher runs one queue drain cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context) (*domain.DispatchStats, error)
}

// peakWindow is a month-day range during which the detection interval is
// tightened. The defaults bracket the quarterly filing deadlines.
type peakWindow struct {
	startMonth time.Month
	startDay   int
	endMonth   time.Month
	endDay     int
}

var peakWindows = []peakWindow{
	{time.January, 28, time.February, 3},
	{time.April, 12, time.April, 18},
	{time.July, 12, time.July, 18},
	{time.October, 12, time.October, 18},
}

// isPeakWindow reports whether t falls in a known high-filing window.
func isPeakWindow(t time.Time) bool {
	md := int(t.Month())*100 + t.Day()
	for _, w := range peakWindows {
		start := int(w.startMonth)*100 + w.startDay
		end := int(w.endMonth)*100 + w.endDay
		if start <= end {
			if md >= start && md <= end {
				return true
			}
		} else if md >= start || md <= end {
			return true
		}
	}
	return false
}

type Scheduler struct {
	detector         Detector
	dispatcher       Dispatcher
	interval         time.Duration
	peakInterval     time.Duration
	dispatchInterval time.Duration
	logger           *slog.Logger
}

func NewScheduler(
	detector Detector,
	dispatcher Dispatcher,
	interval, peakInterval, dispatchInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		detector:         detector,
		dispatcher:       dispatcher,
		interval:         interval,
		peakInterval:     peakInterval,
		dispatchInterval: dispatchInterval,
		logger:           logger,
	}
}

// Start runs the detection loop on this goroutine and the dispatch loop on
// a second one until ctx is cancelled. The loops share no state; they meet
// only at the queue table.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.interval,
		"peak_interval", s.peakInterval,
		"dispatch_interval", s.dispatchInterval,
	)

	go s.dispatchLoop(ctx)

	s.runDetection(ctx)

	timer := time.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.runDetection(ctx)
			timer.Reset(s.nextInterval())
		}
	}
}

func (s *Scheduler) nextInterval() time.Duration {
	if isPeakWindow(time.Now()) {
		return s.peakInterval
	}
	return s.interval
}

func (s *Scheduler) runDetection(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if _, err := s.detector.Run(runCtx); err != nil {
		if errors.Is(err, service.ErrRunInFlight) {
			return
		}
		s.logger.Error("detection run failed", "error", err)
	}
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDispatch(ctx)
		}
	}
}

func (s *Scheduler) runDispatch(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := s.dispatcher.Dispatch(runCtx); err != nil {
		s.logger.Error("dispatch cycle failed", "error", err)
	}
}
