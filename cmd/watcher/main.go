package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"filingwatch/internal/config"
	"filingwatch/internal/delivery"
	"filingwatch/internal/metrics"
	"filingwatch/internal/scheduler"
	"filingwatch/internal/service"
	"filingwatch/internal/source/efd"
	"filingwatch/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one detection pass and one dispatch cycle, then exit")
	dryRun := flag.Bool("dry-run", false, "compute changes without writing checkpoint or queue mutations")
	interval := flag.Duration("interval", 0, "detection loop period (overrides config)")
	testAll := flag.String("test-all", "", "broadcast every event to this address, ignoring subscriptions")
	maxRetries := flag.Int("max-retries", 0, "retry passes over failed items (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "listen address for /metrics (overrides config)")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if *interval > 0 {
		cfg.Watch.Interval = *interval
	}
	if *maxRetries > 0 {
		cfg.Watch.MaxRetryPasses = *maxRetries
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	deliverer, err := delivery.NewRabbitMQ(delivery.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer deliverer.Close()

	filingStore := postgres.NewFilingStore(db)
	entityStore := postgres.NewEntityStore(db)
	checkpointStore := postgres.NewCheckpointStore(db)
	subscriptionStore := postgres.NewSubscriptionStore(db)
	queueStore := postgres.NewQueueStore(db)
	txManager := postgres.NewTransactionManager(db)

	source := efd.New(efd.Config{
		BaseURL:          cfg.Source.BaseURL,
		APIKey:           cfg.Source.APIKey,
		PageSize:         cfg.Source.PageSize,
		Timeout:          cfg.Source.Timeout,
		RequestsPerHour:  cfg.Source.RequestsPerHour,
		RateLimitBackoff: cfg.Source.RateLimitBackoff,
		Cycle:            cfg.Watch.Cycle,
	}, logger)

	detector := service.NewDetectService(
		source,
		filingStore,
		entityStore,
		checkpointStore,
		subscriptionStore,
		queueStore,
		txManager,
		logger,
		service.DetectConfig{
			MaxRetryPasses:     cfg.Watch.MaxRetryPasses,
			CheckpointEvery:    cfg.Watch.CheckpointEvery,
			StalenessThreshold: cfg.Watch.StalenessThreshold,
			MaxIndexPages:      cfg.Watch.MaxIndexPages,
			DryRun:             *dryRun,
			BroadcastAddr:      *testAll,
		},
	)

	dispatcher := service.NewDispatcher(queueStore, deliverer, logger, cfg.Dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	logger.Info("starting filing watcher",
		"cycle", cfg.Watch.Cycle,
		"interval", cfg.Watch.Interval,
		"once", *once,
		"dry_run", *dryRun,
	)

	if *once {
		os.Exit(runOnce(ctx, detector, dispatcher, *dryRun, logger))
	}

	sched := scheduler.NewScheduler(
		detector,
		dispatcher,
		cfg.Watch.Interval,
		cfg.Watch.PeakInterval,
		cfg.Dispatch.Interval,
		logger,
	)

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

// runOnce performs a single detection pass and a single dispatch cycle.
// Persistent failures are reported in the run log but do not change the
// exit code; only run-fatal errors do.
func runOnce(ctx context.Context, detector *service.DetectService, dispatcher *service.Dispatcher, dryRun bool, logger *slog.Logger) int {
	if _, err := detector.Run(ctx); err != nil {
		if errors.Is(err, service.ErrRunInFlight) {
			return 1
		}
		logger.Error("detection run failed", "error", err)
		return 1
	}

	if dryRun {
		return 0
	}

	if _, err := dispatcher.Dispatch(ctx); err != nil {
		logger.Error("dispatch cycle failed", "error", err)
		return 1
	}
	return 0
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics listener error", "error", err)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
