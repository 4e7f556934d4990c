package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/robfig/cron"

	"github.com/JoranSlingerland/running-backend/internal/bootstrap"
	"github.com/JoranSlingerland/running-backend/internal/ingest"
	"github.com/JoranSlingerland/running-backend/internal/logging"
	"github.com/JoranSlingerland/running-backend/internal/pipeline"
	"github.com/JoranSlingerland/running-backend/internal/requeue"
	"github.com/JoranSlingerland/running-backend/internal/store"
	httptransport "github.com/JoranSlingerland/running-backend/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := bootstrap.New(ctx, "running-scheduler")
	if err != nil {
		log.Fatalf("failed to initialize service: %v", err)
	}
	defer svc.Close()
	cfg := svc.Config
	logger := svc.Logger

	workflows, err := pipeline.NewBackend(pipeline.BackendConfig{
		Kind:                cfg.WorkflowBackend,
		SQLitePath:          cfg.WorkflowSQLitePath,
		RedisAddress:        cfg.RedisAddress,
		RedisPassword:       cfg.RedisPassword,
		ExpireFinishedAfter: cfg.WorkflowExpireAfter,
	}, logging.Component(logger, "workflows"))
	if err != nil {
		logger.Error("workflow backend init failed", "error", err)
		return
	}

	activities := &pipeline.Activities{
		Stage:     ingest.NewStage(svc.Store, svc.Tokens, svc.Publisher, ingest.WithLogger(logging.Component(logger, "ingest"))),
		Persister: store.NewBatchPersister(svc.Writer, store.DefaultChunkSize, store.DefaultConcurrency),
	}
	worker, err := pipeline.NewWorker(workflows, activities)
	if err != nil {
		logger.Error("workflow worker init failed", "error", err)
		return
	}
	if err := worker.Start(ctx); err != nil {
		logger.Error("workflow worker start failed", "error", err)
		return
	}

	requeuer := requeue.New(svc.Store, svc.Publisher, requeue.WithLogger(logging.Component(logger, "requeue")))
	runner := pipeline.NewRunner(workflows)

	c := cron.New()
	if err := c.AddFunc(cfg.RequeueSchedule, func() {
		counts, err := requeuer.Scan(ctx)
		if err != nil {
			logger.Error("requeue scan failed", "error", err)
			return
		}
		logger.Info("requeue scan finished", "queued", counts)
	}); err != nil {
		logger.Error("invalid requeue schedule", "schedule", cfg.RequeueSchedule, "error", err)
		return
	}
	if cfg.SyncSchedule != "" {
		if err := c.AddFunc(cfg.SyncSchedule, func() {
			started, err := runner.StartAll(ctx, svc.Store, logger)
			if err != nil {
				logger.Error("scheduled sync failed", "started", started, "error", err)
				return
			}
			logger.Info("scheduled sync started", "users", started)
		}); err != nil {
			logger.Error("invalid sync schedule", "schedule", cfg.SyncSchedule, "error", err)
			return
		}
	}
	c.Start()
	logger.Info("scheduler started", "requeue_schedule", cfg.RequeueSchedule, "sync_schedule", cfg.SyncSchedule)

	metrics := httptransport.NewMetricsServer(cfg.MetricsAddress)
	if err := httptransport.Serve(ctx, metrics, logger); err != nil {
		logger.Error("metrics server error", "error", err)
		cancel()
	}

	logger.Info("scheduler shutdown requested")
	c.Stop()
	if err := worker.WaitForCompletion(); err != nil {
		logger.Error("workflow worker stopped with error", "error", err)
	}
}
