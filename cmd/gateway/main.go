package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/ECHOITWEB/teampulse-sub005/config"
	"github.com/ECHOITWEB/teampulse-sub005/internal/api"
	"github.com/ECHOITWEB/teampulse-sub005/internal/auth"
	"github.com/ECHOITWEB/teampulse-sub005/internal/billing"
	"github.com/ECHOITWEB/teampulse-sub005/internal/credential"
	"github.com/ECHOITWEB/teampulse-sub005/internal/gateway"
	"github.com/ECHOITWEB/teampulse-sub005/internal/secrets"
	"github.com/ECHOITWEB/teampulse-sub005/internal/seeder"
	"github.com/ECHOITWEB/teampulse-sub005/internal/telemetry"
	"github.com/ECHOITWEB/teampulse-sub005/internal/worker"
	"github.com/ECHOITWEB/teampulse-sub005/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init logging and telemetry
	logger, err := telemetry.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracer, err := telemetry.InitTracer(telemetry.ServiceName, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	logger.Info("postgres connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	if err := authStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to prepare auth schema", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(authStore, rdb, logger.Named("auth"))

	// 6. Init usage recording
	usageStore := billing.NewPostgresStore(pool)
	if err := usageStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to prepare usage schema", zap.Error(err))
	}
	recorder := billing.NewRecorder(usageStore, logger.Named("usage"),
		billing.WithQueueSize(cfg.UsageQueueSize),
		billing.WithDropCounter(metrics.DroppedCounter()),
	)
	recorder.Start()

	// 7. Build provider pools from the gateway file
	file, err := config.LoadGatewayFile(cfg.GatewayConfigPath)
	if err != nil {
		logger.Fatal("failed to load gateway file", zap.Error(err))
	}
	state, err := gateway.BuildState(file, gateway.BuildOptions{
		Secrets:     secrets.NewEnvStore(),
		Logger:      logger.Named("credential"),
		Metrics:     metrics,
		PoolOptions: []credential.Option{credential.WithCooldown(cfg.CredentialCooldown)},
	})
	if err != nil {
		logger.Fatal("failed to build provider pools", zap.Error(err))
	}
	prices, err := gateway.BuildPricing(file)
	if err != nil {
		logger.Fatal("failed to build pricing table", zap.Error(err))
	}
	logger.Info("provider pools ready", zap.Strings("providers", state.Providers()))

	// 8. Init dispatcher
	tracer := otel.GetTracerProvider().Tracer(telemetry.ServiceName)
	dispatcher := gateway.NewDispatcher(state, prices, recorder,
		gateway.WithLogger(logger.Named("dispatch")),
		gateway.WithTracer(tracer),
		gateway.WithMetrics(metrics),
		gateway.WithTimeout(cfg.DispatchTimeout),
	)

	// 9. Job queue
	var jobs api.Jobs
	var workerServer *worker.Server
	if cfg.WorkerEnabled {
		jobClient := worker.NewClient(cfg.RedisAddr)
		defer jobClient.Close()
		jobs = jobClient

		workerServer = worker.NewServer(cfg.RedisAddr, cfg.WorkerConcurrency,
			worker.NewHandler(dispatcher, logger.Named("worker")), logger.Named("worker"))
		if err := workerServer.Start(); err != nil {
			logger.Fatal("failed to start worker", zap.Error(err))
		}
	}

	// 10. Seed test API key if RUN_SEED=true
	if cfg.RunSeed {
		_ = seeder.SeedTestAPIKey(ctx, authStore, logger.Named("seeder"))
	}

	// 11. HTTP API
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)
	handler := api.NewHandler(dispatcher, state, usageStore, limiter, jobs, tracer, logger.Named("api"))
	router := api.NewRouter(handler, authMiddleware, prometheus.DefaultGatherer)

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DispatchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Warn("usage recorder did not drain", zap.Error(err))
	}
	logger.Info("server stopped")
}
