package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/tagmatch/internal/app"
	"github.com/benvon/tagmatch/internal/config"
	"github.com/benvon/tagmatch/internal/handlers"
	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/queue"
	"github.com/benvon/tagmatch/internal/telemetry"
	"github.com/benvon/tagmatch/internal/workers"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug mode for oracle request logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.WorkerDebugMode || *debugFlag
	cfg.AIDebugMode = cfg.AIDebugMode || debugMode

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync(zapLogger) }()

	if err := cfg.RequireQueue(); err != nil {
		zapLogger.Fatal("invalid_configuration", zap.Error(err))
	}

	zapLogger.Info("starting_worker",
		zap.String("version", version),
		zap.Bool("debug_mode", debugMode),
		zap.String("ai_provider", cfg.AIProvider),
		zap.String("ai_model", cfg.Model()),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopTracing := telemetry.Setup(ctx, cfg.OTELEnabled, telemetry.Options{
		ServiceName:    cfg.ServiceName + "-worker",
		ServiceVersion: version,
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       true,
	}, zapLogger)
	defer stopTracing()

	mapping, err := app.LoadTaxonomy(cfg)
	if err != nil {
		zapLogger.Fatal("failed_to_load_taxonomy", zap.Error(err))
	}
	zapLogger.Info("taxonomy_loaded",
		zap.Int("primary_tags", mapping.PrimaryCount()),
		zap.Int("secondary_tags", mapping.SecondaryCount()),
	)

	store, err := app.OpenStore(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_open_store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			zapLogger.Warn("failed_to_close_store", zap.Error(err))
		}
	}()

	redisCache, err := app.OpenCache(cfg, zapLogger)
	if err != nil {
		zapLogger.Warn("failed_to_connect_to_redis", zap.Error(err))
		redisCache = nil
	}
	if redisCache != nil {
		defer func() { _ = redisCache.Close() }()
	}

	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_rabbitmq", zap.Int("prefetch", cfg.RabbitMQPrefetch))

	oracle, err := app.NewOracle(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_create_ai_provider", zap.Error(err))
	}
	tagger := app.NewTagger(cfg, oracle, mapping, zapLogger)
	analyzer := app.NewContentAnalyzer(cfg, store, app.NewBatchClassifier(cfg, tagger, zapLogger), redisCache, zapLogger)
	runner := workers.NewAnalysisJobRunner(jobQueue, analyzer, zapLogger)
	reprocessor := workers.NewReprocessor(jobQueue, cfg.ReanalysisInterval, zapLogger)

	health := handlers.NewHealthChecker(zapLogger).
		AddCheck("store", store).
		AddCheck("rabbitmq", jobQueue)
	if redisCache != nil {
		health.AddCheck("redis", redisCache)
	} else {
		health.AddCheck("redis", nil)
	}
	routerOpts := handlers.RouterOptions{Version: version, Logger: zapLogger}
	if cfg.OTELEnabled {
		routerOpts.ServiceName = cfg.ServiceName + "-worker"
	}
	srv := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           handlers.NewRouter(health, routerOpts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		zapLogger.Info("health_server_starting", zap.String("addr", cfg.HealthAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("health_server_failed", zap.Error(err))
		}
	}()

	go func() {
		if err := reprocessor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("reprocessor_stopped_with_error", zap.Error(err))
		}
	}()

	dlqGC := queue.NewGarbageCollector(jobQueue, cfg.DLQGCInterval, cfg.DLQRetention, zapLogger)
	go func() {
		if err := dlqGC.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
		}
	}()
	zapLogger.Info("started_dlq_garbage_collector",
		zap.Duration("interval", cfg.DLQGCInterval),
		zap.Duration("retention", cfg.DLQRetention),
	)

	zapLogger.Info("worker_started")
	if err := runner.Run(ctx, cfg.RabbitMQPrefetch); err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Error("job_runner_stopped_with_error", zap.Error(err))
	}

	zapLogger.Info("worker_shutting_down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("health_server_forced_to_shutdown", zap.Error(err))
	}
	zapLogger.Info("worker_stopped")
}
