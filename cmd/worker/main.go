package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cardsync-backend/internal/cron"
	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/ledger"
	"github.com/angelmondragon/cardsync-backend/internal/retryjobs"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/internal/syncqueue"
	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/db"
	"github.com/angelmondragon/cardsync-backend/pkg/governor"
	"github.com/angelmondragon/cardsync-backend/pkg/instance"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
	"github.com/angelmondragon/cardsync-backend/pkg/metrics"
	"github.com/angelmondragon/cardsync-backend/pkg/migrate"
	"github.com/angelmondragon/cardsync-backend/pkg/redis"
	"github.com/angelmondragon/cardsync-backend/pkg/shopify"
)

const maintenanceLockName = "maintenance"

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	svc, err := build(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID("worker-0"),
	})
	logg.Info(ctx, "starting worker")

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

// build wires one governor into the shopify client, the drainer and the retry
// runner so all outbound calls for a shop share the same budget.
func build(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*Service, error) {
	reg := prometheus.DefaultRegisterer

	govOpts := governor.OptionsFromConfig(cfg.Governor)
	govOpts.Metrics = metrics.NewGovernorMetrics(reg)
	gov := governor.New(govOpts)

	remote := shopify.NewClient(cfg.Shopify, shopify.WithCallLimitObserver(gov))

	storeService, err := stores.NewService(stores.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, err
	}
	recordRepo := inventory.NewRepository(dbClient.DB())

	drainer, err := syncqueue.NewDrainer(syncqueue.DrainerParams{
		Config:   cfg.SyncQueue,
		Logger:   logg,
		Repo:     syncqueue.NewRepository(dbClient.DB()),
		Records:  recordRepo,
		Stores:   storeService,
		Remote:   remote,
		Governor: gov,
		Tx:       dbClient,
		Metrics:  metrics.NewSyncMetrics(reg),
	})
	if err != nil {
		return nil, fmt.Errorf("sync drainer: %w", err)
	}

	syncService, err := syncqueue.NewService(syncqueue.ServiceParams{
		Repo:    syncqueue.NewRepository(dbClient.DB()),
		Records: recordRepo,
		Tx:      dbClient,
		Config:  cfg.SyncQueue,
	})
	if err != nil {
		return nil, fmt.Errorf("sync queue service: %w", err)
	}

	retryService, err := retryjobs.NewService(retryjobs.ServiceParams{
		Config:   cfg.RetryJobs,
		Logger:   logg,
		Repo:     retryjobs.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Records:  recordRepo,
		Stores:   storeService,
		Remote:   remote,
		Governor: gov,
		Metrics:  metrics.NewRetryJobMetrics(reg),
	})
	if err != nil {
		return nil, fmt.Errorf("retry job service: %w", err)
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	registry, err := cronJobs(cfg, logg, retryService, syncService, ledgerService)
	if err != nil {
		return nil, err
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(maintenanceLockName, cfg.App.Env), instance.GetID("worker-0"), cfg.Cron.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("cron lock: %w", err)
	}
	cronService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("cron service: %w", err)
	}

	return NewService(ServiceParams{
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Drainer:     drainer,
		Cron:        cronService,
		MetricsAddr: cfg.Service.MetricsAddr,
	})
}

func cronJobs(cfg *config.Config, logg *logger.Logger, retry retryjobs.Service, sync syncqueue.Service, ledgerService ledger.Service) (*cron.Registry, error) {
	retryJob, err := cron.NewRetryJobsJob(logg, retry)
	if err != nil {
		return nil, err
	}
	syncRecovery, err := cron.NewSyncQueueRecoveryJob(logg, sync)
	if err != nil {
		return nil, err
	}
	retryRecovery, err := cron.NewRetryJobsRecoveryJob(logg, retry, cfg.RetryJobs.StuckAfter)
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewInboundEventRetentionJob(logg, ledgerService, cfg.Ledger.RetentionDays)
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(retryRecovery, syncRecovery, retryJob, retention)
}
