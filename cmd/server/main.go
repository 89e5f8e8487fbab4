// Command server runs the panel generation service: the orchestration
// pipeline plus its thin HTTP control surface.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/webtoonlab/panelgen/internal/api"
	"github.com/webtoonlab/panelgen/internal/config"
	"github.com/webtoonlab/panelgen/internal/events"
	"github.com/webtoonlab/panelgen/internal/platform/gemini"
	"github.com/webtoonlab/panelgen/internal/platform/logger"
	"github.com/webtoonlab/panelgen/internal/platform/postgres"
	"github.com/webtoonlab/panelgen/internal/platform/redisnotify"
	"github.com/webtoonlab/panelgen/internal/platform/storage"
	"github.com/webtoonlab/panelgen/internal/task"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server.LogLevel)
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"worker_count", cfg.Pipeline.WorkerCount,
		"max_panels", cfg.Pipeline.MaxPanels,
		"archive_enabled", cfg.Database.URL != "",
		"redis_notify_enabled", cfg.Redis.Addr != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcaster := task.NewBroadcaster(log)
	store := task.NewInMemoryStateStore(broadcaster, log)

	// Optional terminal-snapshot archive.
	var pgPool *pgxpool.Pool
	if cfg.Database.URL != "" {
		migrationDB, err := sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open database for migrations: %w", err)
		}
		if err := postgres.Migrate(ctx, migrationDB); err != nil {
			return err
		}
		if err := migrationDB.Close(); err != nil {
			log.Warn("failed to close migration connection", "error", err)
		}

		pgPool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		defer pgPool.Close()

		broadcaster.RegisterListener(postgres.NewTaskArchive(pgPool, log))
		log.Info("task archive enabled")
	}

	// Optional external notification publisher.
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Warn("failed to close redis client", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		broadcaster.RegisterListener(redisnotify.NewPublisher(redisClient, cfg.Redis.ChannelPrefix, log))
		log.Info("redis notification publisher enabled")
	}

	// Generation capabilities.
	genaiClient, err := gemini.NewClient(ctx, cfg.LLM.GeminiAPIKey)
	if err != nil {
		return err
	}
	storyGen, err := gemini.NewStoryGenerator(genaiClient, cfg.LLM.StoryModel, log)
	if err != nil {
		return err
	}
	imageStore, err := storage.NewFileStore(cfg.LLM.ImageDir, log)
	if err != nil {
		return err
	}
	imageGen, err := gemini.NewImageGenerator(genaiClient, cfg.LLM.ImageModel, imageStore, log)
	if err != nil {
		return err
	}

	// Pipeline core.
	pool := task.NewWorkerPool(task.WorkerPoolConfig{
		WorkerCount: cfg.Pipeline.WorkerCount,
		QueueSize:   cfg.Pipeline.QueueSize,
	}, log)
	pool.Start()

	retry := task.NewRetryPolicy(task.RetryConfig{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Pipeline.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Pipeline.RetryMaxDelayMs) * time.Millisecond,
	}, log)

	coordinator := task.NewCoordinator(
		store,
		task.NewStoryStageExecutor(storyGen, time.Duration(cfg.Pipeline.StoryTimeoutSeconds)*time.Second, log),
		task.NewPanelStageExecutor(imageGen, time.Duration(cfg.Pipeline.PanelTimeoutSeconds)*time.Second, log),
		retry,
		pool,
		task.CoordinatorConfig{MaxPanels: cfg.Pipeline.MaxPanels},
		log,
	)

	emitter := events.NewInMemoryEmitter(log)
	emitter.RegisterHandler(task.NewGenerationEventHandler(coordinator, log))

	// HTTP control surface.
	handler := api.NewGenerationHandler(emitter, store, coordinator, log)
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Route("/api", handler.Routes)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}

	// Cancel running tasks, then let the pool report abandoned jobs.
	coordinator.Close()
	pool.Shutdown()

	log.Info("shutdown complete")
	return nil
}
