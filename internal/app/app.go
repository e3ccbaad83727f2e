package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/author-payouts/internal/api"
	"github.com/ayo6706/author-payouts/internal/api/middleware"
	"github.com/ayo6706/author-payouts/internal/config"
	"github.com/ayo6706/author-payouts/internal/db"
	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/gateway"
	"github.com/ayo6706/author-payouts/internal/idempotency"
	"github.com/ayo6706/author-payouts/internal/observability"
	"github.com/ayo6706/author-payouts/internal/queue"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/ayo6706/author-payouts/internal/service"
	"github.com/ayo6706/author-payouts/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server, payout workers and scheduled jobs, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	payoutQueue := queue.NewRedisQueue(redisClient, cfg.QueueName)
	// Recover messages a crashed process left in flight.
	if n, err := payoutQueue.RequeueInFlight(ctx); err != nil {
		return fmt.Errorf("requeue in-flight batches: %w", err)
	} else if n > 0 {
		logger.Info("requeued in-flight batches", zap.Int("count", n))
	}

	policy := domain.SplitPolicy{OrderShareRatio: cfg.OrderShareRatio, DigitalShareRatio: cfg.DigitalShareRatio}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("split policy: %w", err)
	}

	dispatcher := service.NewTransferDispatcher(cfg.TransferTimeout, newGateways(cfg)...)
	job := service.NewReconciliationJob(store, dispatcher, policy, cfg.PayoutClaimTTL)
	batchSvc := service.NewBatchService(store, payoutQueue)
	recipientSvc := service.NewRecipientService(store)
	webhookSvc := service.NewWebhookService(store, batchSvc, service.WebhookSecrets{
		StripeWebhookSecret:  cfg.StripeWebhookSecret,
		PaystackSecretKey:    cfg.PaystackSecretKey,
		GenericHMACKey:       cfg.WebhookHMACKey,
		SkipGenericSignature: cfg.WebhookSkipSignature,
	})
	integritySvc := service.NewIntegrityService(store)
	idemStore := idempotency.NewStore(redisClient, store.Queries(), cfg.IdempotencyTTL).WithLockTimeout(cfg.IdempotencyLock)

	payoutWorker := worker.NewPayoutWorker(payoutQueue, job).WithWorkers(cfg.PayoutWorkers)
	stopWorker := payoutWorker.Run(ctx)
	logger.Info("payout worker started", zap.Stringer("worker", payoutWorker), zap.String("queue", cfg.QueueName))

	sweeper := worker.NewSweepWorker(store.Queries(), payoutQueue, cfg.PayoutClaimTTL)
	integrity := worker.NewIntegrityWorker(integritySvc)
	scheduler := worker.NewScheduler()
	if err := scheduler.Add(ctx, "payout-sweep", cfg.SweepCron, time.Minute, sweeper.RunOnce); err != nil {
		stopWorker()
		return fmt.Errorf("schedule payout sweep: %w", err)
	}
	if err := scheduler.Add(ctx, "integrity-check", cfg.IntegrityCron, 30*time.Minute, integrity.RunOnce); err != nil {
		stopWorker()
		return fmt.Errorf("schedule integrity check: %w", err)
	}
	if err := scheduler.Add(ctx, "idempotency-purge", cfg.IdempotencyCron, time.Minute, func(ctx context.Context) error {
		n, err := idemStore.Purge(ctx)
		if n > 0 {
			logger.Info("purged idempotency keys", zap.Int64("count", n))
		}
		return err
	}); err != nil {
		stopWorker()
		return fmt.Errorf("schedule idempotency purge: %w", err)
	}
	stopScheduler := scheduler.Run()

	router := api.NewRouter(cfg, logger, store, idemStore, redisClient, batchSvc, recipientSvc, webhookSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("database", store.Driver()))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping scheduler")
	stopScheduler()
	logger.Info("stopping payout worker")
	stopWorker()

	logger.Info("shutdown complete")
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return repository.NewSQLiteStore(sqlDB), func() { sqlDB.Close() }, nil
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		return repository.NewStore(pool), pool.Close, nil
	}
}

// newGateways returns one gateway per provider. Mock mode never leaves the process.
func newGateways(cfg *config.Config) []gateway.Gateway {
	if cfg.PayoutGateway == config.GatewayMock {
		zap.L().Warn("using mock payout gateways")
		return []gateway.Gateway{
			gateway.NewMockGateway(domain.ProviderStripe),
			gateway.NewMockGateway(domain.ProviderPaystack),
		}
	}
	var gws []gateway.Gateway
	if cfg.StripeSecretKey != "" {
		gws = append(gws, gateway.NewStripeGateway(cfg.StripeSecretKey, nil))
	}
	if cfg.PaystackSecretKey != "" {
		gws = append(gws, gateway.NewPaystackGateway(cfg.PaystackBaseURL, cfg.PaystackSecretKey, nil))
	}
	return gws
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
