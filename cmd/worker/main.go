package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/accessctl/internal/app"
	jobmetrics "github.com/odyssey-erp/accessctl/internal/jobs"
	"github.com/odyssey-erp/accessctl/internal/observability"
	"github.com/odyssey-erp/accessctl/internal/platform/cache"
	"github.com/odyssey-erp/accessctl/internal/platform/db"
	"github.com/odyssey-erp/accessctl/internal/rbac"
	"github.com/odyssey-erp/accessctl/internal/rbac/pgstore"
	"github.com/odyssey-erp/accessctl/jobs"
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

	metrics := observability.NewMetrics()
	store := pgstore.New(pool)
	repairer := rbac.NewRepairer(store, logger, rbac.NewMetrics(metrics.Registerer()), rbac.RepairConfig{
		Locker:  cache.NewLocker(redisClient),
		LockTTL: cfg.RepairLockTTL,
		Now:     func() time.Time { return time.Now().UTC() },
	})
	repairJob := jobs.NewRepairJob(repairer, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	var cron []jobs.CronRegistration
	if cfg.RepairSchedule != "" {
		repairTask, err := jobs.NewRepairTask(jobs.RepairPayload{
			SuperAdminEmail: cfg.RepairSuperAdminEmail,
			AdminEmails:     cfg.RepairAdminEmails,
		})
		if err != nil {
			logger.Error("build repair task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.RepairSchedule, Task: repairTask})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRBACRepair, Handler: repairJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
