package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/config"
	"github.com/ErlanBelekov/sync-scheduler/internal/conflict"
	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/health"
	"github.com/ErlanBelekov/sync-scheduler/internal/infrastructure/memory"
	"github.com/ErlanBelekov/sync-scheduler/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/sync-scheduler/internal/infrastructure/redislock"
	ctxlog "github.com/ErlanBelekov/sync-scheduler/internal/log"
	"github.com/ErlanBelekov/sync-scheduler/internal/metrics"
	"github.com/ErlanBelekov/sync-scheduler/internal/notify"
	"github.com/ErlanBelekov/sync-scheduler/internal/report"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/ErlanBelekov/sync-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/sync-scheduler/internal/syncop"
	"github.com/ErlanBelekov/sync-scheduler/internal/tracing"
	httptransport "github.com/ErlanBelekov/sync-scheduler/internal/transport/http"
	"github.com/ErlanBelekov/sync-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/sync-scheduler/internal/usecase"
	"github.com/ErlanBelekov/sync-scheduler/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := ctxlog.New(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	schedCfg, err := config.LoadScheduler(cfg.SchedulerConfigPath)
	if err != nil {
		log.Fatalf("scheduler config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.TracesEnabled)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	deps := map[string]health.Pinger{}

	var store repository.ScheduleStore
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		store = postgres.NewStore(pool, logger)
		logger.Info("db connected")
	} else {
		store = memory.NewStore()
		logger.Warn("DATABASE_URL not set, schedules will not survive a restart")
	}
	deps["store"] = store

	var locker scheduler.Locker
	if cfg.RedisURL != "" {
		rl, err := redislock.New(ctx, cfg.RedisURL, cfg.LockTTL())
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer func() { _ = rl.Close() }()
		locker = rl
		deps["redis"] = rl
		logger.Info("redis connected, connection leases enabled")
	}

	metrics.Register()
	checker := health.NewChecker(deps, logger, prometheus.DefaultRegisterer)

	clock := clockwork.NewRealClock()

	notifier := notify.NewNotifier(logger)
	defer func() { _ = notifier.Close() }()

	// Schedules
	manager := usecase.NewScheduleManager(store, notifier, clock, logger)
	if err := manager.Load(ctx); err != nil {
		log.Fatalf("load schedules: %v", err)
	}
	detector := conflict.NewDetector(store, clock, logger)
	validator := validation.NewValidator(detector, clock, logger)

	// Execution
	op := syncop.NewHTTPOperation(cfg.SyncServiceURL, cfg.SyncTimeout())
	executor := scheduler.NewExecutor(op, locker, clock, logger, schedCfg.MaxConcurrentSchedules)
	dispatcher := scheduler.NewDispatcher(manager, store, executor, notifier, clock, schedCfg, logger)

	service := usecase.NewScheduleService(manager, validator, detector, func() domain.ResolutionStrategy {
		return dispatcher.Config().ConflictResolutionStrategy
	}, logger)

	reporter := report.NewReporter(manager, store, executor, clock, logger)
	housekeeper := scheduler.NewHousekeeper(store, reporter, notifier, clock, schedCfg, logger)
	dispatcher.OnConfigChange(func(c domain.SchedulerConfig) {
		housekeeper.ApplyConfig(ctx, c)
	})

	// HTTP
	webhooks := handler.NewWebhookHandler(dispatcher, manager, cfg.WebhookRateLimit, cfg.WebhookBurst, logger)
	router := httptransport.NewRouter(logger, httptransport.Handlers{
		Schedules: handler.NewScheduleHandler(service, manager, dispatcher, validator, logger),
		Conflicts: handler.NewConflictHandler(store, detector, logger),
		Reports:   handler.NewReportHandler(reporter, logger),
		Executor:  handler.NewExecutorHandler(executor, logger),
		Config:    handler.NewConfigHandler(dispatcher, logger),
		Webhooks:  webhooks,
		Events:    handler.NewEventsHandler(notifier, cfg.WSOriginPatterns, logger),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
		return nil
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return housekeeper.Run(gctx) })
	if cfg.SchedulerConfigPath != "" {
		watcher := config.NewWatcher(cfg.SchedulerConfigPath, schedCfg, dispatcher.ApplyConfig, logger)
		g.Go(func() error { return watcher.Watch(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("scheduler stopped", "error", err)
	}

	webhooks.Wait()
	executor.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn("tracing shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}
