package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turnero/hospital-core/internal/api/router"
	"github.com/turnero/hospital-core/internal/audit"
	appconfig "github.com/turnero/hospital-core/internal/config"
	"github.com/turnero/hospital-core/internal/http/handlers"
	"github.com/turnero/hospital-core/internal/observability/metrics"
	"github.com/turnero/hospital-core/internal/payments"
	"github.com/turnero/hospital-core/internal/scheduling"
	"github.com/turnero/hospital-core/internal/storage"
	"github.com/turnero/hospital-core/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting hospital-core API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	// The audit store runs on database/sql so it can share the pgx stdlib
	// driver with the migration tooling.
	auditDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open audit db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditDB.Close() }()

	var redisStore *storage.Store
	if cfg.RedisAddr != "" {
		redisStore, err = storage.New(ctx, cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			logger.Error("redis unreachable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = redisStore.Close() }()
	}

	auditMetrics := metrics.NewAuditMetrics(nil)
	schedulingMetrics := metrics.NewSchedulingMetrics(nil)
	paymentMetrics := metrics.NewPaymentMetrics(nil)

	// Audit pipeline
	auditRepo := audit.NewRepository(auditDB)
	auditService := audit.NewService(auditRepo, cfg.AuditRetentionDays, cfg.AuditRedactFields, logger)
	pipeline := audit.NewPipeline(auditService, audit.PipelineOptions{
		QueueSize:  cfg.AuditQueueSize,
		BatchSize:  cfg.AuditBatchSize,
		Linger:     cfg.AuditLinger,
		RetryDelay: cfg.AuditRetryDelay,
	}, logger, auditMetrics)
	pipeline.Start()
	emitter := audit.NewEmitter(auditService, pipeline, cfg.AuditEnabled, cfg.AuditMinSeverity)

	// Scheduling
	policy := scheduling.PolicyFromName(cfg.DoctorPolicy)
	schedulingRepo := scheduling.NewRepository(pool, policy, logger, schedulingMetrics)

	// Payments
	paymentRepo := payments.NewRepository(pool)
	var gateway payments.CheckoutGateway
	if cfg.StripeSecretKey != "" || cfg.StripeDryRun {
		gateway = payments.NewStripeGateway(cfg.StripeSecretKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, logger).
			WithDryRun(cfg.StripeDryRun)
	}
	paymentService := payments.NewService(paymentRepo, gateway, paymentRepo, logger, paymentMetrics)
	stripeWebhook := payments.NewStripeWebhookHandler(cfg.StripeWebhookSecret, paymentService, logger, paymentMetrics)

	// HTTP surface
	readiness := map[string]router.Pinger{"postgres": pool}
	if redisStore != nil {
		readiness["redis"] = redisStore
	}
	routerCfg := &router.Config{
		Logger:             logger,
		TurnsHandler:       handlers.NewTurnsHandler(schedulingRepo, paymentService, emitter, logger),
		PaymentsHandler:    handlers.NewPaymentsHandler(paymentService, emitter, logger),
		AuditHandler:       handlers.NewAuditEventsHandler(auditService, logger),
		StripeWebhook:      stripeWebhook.Handle,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ReadinessChecks:    readiness,
	}
	if redisStore != nil && cfg.RateLimitPerMinute > 0 {
		routerCfg.RateLimitCounter = redisStore
		routerCfg.RateLimitMax = int64(cfg.RateLimitPerMinute)
		routerCfg.RateLimitWindow = time.Minute
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Stop the pipeline after the HTTP surface so in-flight handlers can
	// still enqueue; Stop drains the queue before returning.
	pipeline.Stop()

	logger.Info("server stopped")
}
