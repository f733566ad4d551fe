package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatehouse-vms/gatehouse/internal/app"
	"github.com/gatehouse-vms/gatehouse/internal/authz"
	jobmetrics "github.com/gatehouse-vms/gatehouse/internal/jobs"
	"github.com/gatehouse-vms/gatehouse/internal/notifications"
	"github.com/gatehouse-vms/gatehouse/internal/platform/cache"
	"github.com/gatehouse-vms/gatehouse/internal/platform/db"
	"github.com/gatehouse-vms/gatehouse/internal/users"
	"github.com/gatehouse-vms/gatehouse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	catalog := authz.DefaultCatalog()
	authzRepo := authz.NewRepository(pool)
	resolver := authz.NewResolver(authzRepo, catalog, cfg.AuthzElevatedLevel)
	permCache := authz.NewCache(redisClient, resolver, authzRepo, cfg.AuthzCacheTTL, logger, nil)

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	usersRepo := users.NewRepository(pool)
	notifier := notifications.NewService(jobClient, usersRepo, logger)
	digestStats := notifications.NewPGStats(pool)
	metrics := jobmetrics.NewMetrics(nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeCacheReconcile, Handler: jobs.NewCacheReconcileHandler(permCache, logger, metrics)},
			{Type: jobs.TaskTypeDailyDigest, Handler: jobs.NewDailyDigestHandler(func(ctx context.Context, day time.Time) error {
				return notifier.RunDailyDigest(ctx, digestStats, cfg.DigestRecipient, day)
			}, logger, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "10 0 * * *", Task: jobs.NewDailyDigestTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
