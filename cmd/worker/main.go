package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tutormarket/internal/app"
	"tutormarket/internal/config"
	"tutormarket/internal/logging"
	"tutormarket/internal/reconcile"
)

// Worker consumes reconcile jobs and schedules payment expiry sweeps.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.QueueBackend != "redis" {
		logger.Fatal("the standalone worker needs QUEUE_BACKEND=redis; the API runs an in-process worker otherwise")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	sched := reconcile.NewScheduler(a.Queue, cfg.ReconcileInterval, logger.Named("scheduler"))
	sched.Start(ctx)
	defer sched.Stop()

	if err := a.Worker().Run(ctx); err != nil {
		logger.Error("worker failed", zap.Error(err))
	}
}
