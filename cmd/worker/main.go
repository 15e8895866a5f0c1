package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/metrics"
	"github.com/deployflow/engine/internal/plan"
	"github.com/deployflow/engine/internal/progress"
	"github.com/deployflow/engine/internal/queue/tasks"
	"github.com/deployflow/engine/internal/repository"
	"github.com/deployflow/engine/internal/services"
	"github.com/deployflow/engine/pkg/config"
	"github.com/deployflow/engine/pkg/database"
	"github.com/deployflow/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	mux := asynq.NewServeMux()
	// Initialize DB and repositories for task handlers
	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	flowRepo := repository.NewFlowRepository(db)
	graphRepo := repository.NewGraphRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)

	// The worker only runs deployments; it never enqueues them.
	deploySvc := services.NewDeploymentService(flowRepo, graphRepo, deployRepo, plan.NewPlanner(catalog.Default()), nil)

	m, err := metrics.New()
	if err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}
	if cfg.WorkerMetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer metricsSrv.Close()
	}

	handler := tasks.NewDeployTaskHandler(deploySvc, progress.NewRedisPublisher(rdb), m, cfg.DeployStepDelay)
	mux.HandleFunc(tasks.TypeFlowDeploy, handler.HandleDeploy)

	errCh := make(chan error, 1)
	go func() {
		log.Info("asynq worker starting",
			zap.Int("concurrency", cfg.AsynqConcurrency),
			zap.Duration("step_delay", cfg.DeployStepDelay))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("worker stopped with error", zap.Error(err))
	}

	// Allow in-flight tasks to finish gracefully
	srv.Shutdown()
}
