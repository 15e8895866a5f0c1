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

	"github.com/deployflow/engine/internal/api"
	"github.com/deployflow/engine/internal/api/handlers"
	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/codec"
	"github.com/deployflow/engine/internal/metrics"
	"github.com/deployflow/engine/internal/plan"
	"github.com/deployflow/engine/internal/progress"
	"github.com/deployflow/engine/internal/queue/tasks"
	"github.com/deployflow/engine/internal/repository"
	"github.com/deployflow/engine/internal/services"
	"github.com/deployflow/engine/internal/session"
	"github.com/deployflow/engine/pkg/config"
	"github.com/deployflow/engine/pkg/database"
	"github.com/deployflow/engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("starting deployflow engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect to database
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	log.Info("database connected")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	queue := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer queue.Close()

	m, err := metrics.New()
	if err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	// JWT secret
	jwtSecret := []byte(cfg.JWTSecret)
	if len(jwtSecret) == 0 {
		if !cfg.IsDevelopment() {
			log.Fatal("JWT_SECRET must be set outside development")
		}
		log.Warn("JWT_SECRET not set, using development default")
		jwtSecret = []byte("change-me-in-production-please")
	}

	// Repositories and services
	userRepo := repository.NewUserRepository(db)
	flowRepo := repository.NewFlowRepository(db)
	graphRepo := repository.NewGraphRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)

	cat := catalog.Default()
	authSvc := services.NewAuthService(userRepo, jwtSecret)
	flowSvc := services.NewFlowService(db, flowRepo, graphRepo)
	deploySvc := services.NewDeploymentService(flowRepo, graphRepo, deployRepo, plan.NewPlanner(cat), tasks.NewEnqueuer(queue))

	// Editing sessions follow deployment progress published by the worker.
	sessions := session.NewManager(flowSvc, cat, m, session.Options{
		InsertDebounce: cfg.InsertDebounce,
		IdleTimeout:    cfg.SessionIdleTimeout,
	})
	go sessions.Run(ctx)
	go func() {
		if err := progress.NewSubscriber(rdb).Run(ctx, sessions.ApplyProgress); err != nil {
			log.Error("progress subscriber stopped", zap.Error(err))
		}
	}()

	// Handlers
	flowsHandler := handlers.NewFlowsHandler(flowSvc, sessions, codec.Default())
	router := api.NewRouter(api.Dependencies{
		HMACSecret:     jwtSecret,
		CORSOrigin:     cfg.CORSAllowedOrigin,
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		Metrics:        m,
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Check{
			"postgres": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		}),
		AuthHandler:        handlers.NewAuthHandler(authSvc),
		CatalogHandler:     handlers.NewCatalogHandler(cat, sessions),
		FlowsHandler:       flowsHandler,
		DeploymentsHandler: handlers.NewDeploymentsHandler(deploySvc, sessions),
		WSHandler:          handlers.NewWSHandler(flowsHandler, cfg.CORSAllowedOrigin),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	stop()

	// Unsaved edits are flushed before exit.
	sessions.CloseAll(shutdownCtx)
	log.Info("server exited gracefully")
}
