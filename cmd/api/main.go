package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cardsync-backend/api/routes"
	"github.com/angelmondragon/cardsync-backend/internal/inventory"
	"github.com/angelmondragon/cardsync-backend/internal/ledger"
	"github.com/angelmondragon/cardsync-backend/internal/retryjobs"
	"github.com/angelmondragon/cardsync-backend/internal/stores"
	"github.com/angelmondragon/cardsync-backend/internal/syncqueue"
	shopifywebhook "github.com/angelmondragon/cardsync-backend/internal/webhooks/shopify"
	"github.com/angelmondragon/cardsync-backend/pkg/config"
	"github.com/angelmondragon/cardsync-backend/pkg/db"
	"github.com/angelmondragon/cardsync-backend/pkg/instance"
	"github.com/angelmondragon/cardsync-backend/pkg/logger"
	"github.com/angelmondragon/cardsync-backend/pkg/metrics"
	"github.com/angelmondragon/cardsync-backend/pkg/migrate"
	"github.com/angelmondragon/cardsync-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	storeService, err := stores.NewService(stores.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create store service", err)
		os.Exit(1)
	}

	recordRepo := inventory.NewRepository(dbClient.DB())
	syncService, err := syncqueue.NewService(syncqueue.ServiceParams{
		Repo:    syncqueue.NewRepository(dbClient.DB()),
		Records: recordRepo,
		Tx:      dbClient,
		Config:  cfg.SyncQueue,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sync queue service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Repo:   recordRepo,
		Stores: storeService,
		Sync:   syncService,
		Tx:     dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	// the api only enqueues and reopens jobs; the worker runs them
	retryService, err := retryjobs.NewService(retryjobs.ServiceParams{
		Config: cfg.RetryJobs,
		Logger: logg,
		Repo:   retryjobs.NewRepository(dbClient.DB()),
		Tx:     dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retry job service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	webhookService, err := shopifywebhook.NewService(shopifywebhook.ServiceParams{
		Logger:  logg,
		Ledger:  ledgerService,
		Records: recordRepo,
		Stores:  storeService,
		Retry:   retryService,
		Tx:      dbClient,
		Metrics: metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create shopify webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID("local"),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:    cfg,
			Logger:    logg,
			DB:        dbClient,
			Redis:     redisClient,
			Gatherer:  prometheus.DefaultGatherer,
			Webhooks:  webhookService,
			Stores:    storeService,
			Inventory: inventoryService,
			SyncQueue: syncService,
			RetryJobs: retryService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}
