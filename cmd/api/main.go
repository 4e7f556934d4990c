package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/JoranSlingerland/running-backend/internal/api"
	"github.com/JoranSlingerland/running-backend/internal/auth"
	"github.com/JoranSlingerland/running-backend/internal/bootstrap"
	"github.com/JoranSlingerland/running-backend/internal/logging"
	"github.com/JoranSlingerland/running-backend/internal/pipeline"
	"github.com/JoranSlingerland/running-backend/internal/requeue"
	httptransport "github.com/JoranSlingerland/running-backend/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := bootstrap.New(ctx, "running-api")
	if err != nil {
		log.Fatalf("failed to initialize service: %v", err)
	}
	defer svc.Close()
	cfg := svc.Config

	workflows, err := pipeline.NewBackend(pipeline.BackendConfig{
		Kind:                cfg.WorkflowBackend,
		SQLitePath:          cfg.WorkflowSQLitePath,
		RedisAddress:        cfg.RedisAddress,
		RedisPassword:       cfg.RedisPassword,
		ExpireFinishedAfter: cfg.WorkflowExpireAfter,
	}, logging.Component(svc.Logger, "workflows"))
	if err != nil {
		svc.Logger.Error("workflow backend init failed", "error", err)
		return
	}

	requeuer := requeue.New(svc.Store, svc.Publisher, requeue.WithLogger(logging.Component(svc.Logger, "requeue")))
	handler := api.NewHandler(
		pipeline.NewRunner(workflows),
		requeuer,
		svc.Tokens,
		svc.Store,
		cfg.SyncResultTimeout,
		logging.Component(svc.Logger, "api"),
	)
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, nil)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), handler.Routes(authMiddleware))
	if err := httptransport.Serve(ctx, server, svc.Logger); err != nil {
		svc.Logger.Error("server error", "error", err)
	}
	svc.Logger.Info("api stopped")
}
