package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/shop-ranking-scraper/internal/api"
	"github.com/maltedev/shop-ranking-scraper/internal/app"
	"github.com/maltedev/shop-ranking-scraper/internal/config"
	"github.com/maltedev/shop-ranking-scraper/internal/database"
	"github.com/maltedev/shop-ranking-scraper/internal/events"
	"github.com/maltedev/shop-ranking-scraper/internal/jobs"
	"github.com/maltedev/shop-ranking-scraper/internal/metrics"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/pipeline"
	"github.com/maltedev/shop-ranking-scraper/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	sinks := events.Multi{}

	var (
		store   jobs.RunStore
		history api.History
		backlog api.Backlog
	)

	// Run history and the outbox relay need both Postgres and Redis.
	if cfg.Database.Enabled {
		db, err := database.Open(ctx, cfg.Database.DSN(), database.Config{MaxConns: cfg.Database.MaxConns})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		runs := database.NewRunRepository(db)
		store = runs
		history = runs

		if cfg.Redis.Enabled {
			redisClient, err := app.NewRedisClient(ctx, cfg.Redis)
			if err != nil {
				logger.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}
			defer redisClient.Close()

			relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, database.RelayConfig{
				PollInterval: 5 * time.Second,
				BatchSize:    100,
				StreamMaxLen: cfg.Redis.MaxLen,
			})
			backlog = relay
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	redisSink, err := app.NewRedisSink(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to set up progress stream", "error", err)
		os.Exit(1)
	}
	if redisSink != nil {
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
	}

	coord, err := app.NewCoordinator(cfg, nil, m, logger)
	if err != nil {
		logger.Error("failed to set up scraper", "error", err)
		os.Exit(1)
	}
	defer coord.Close()

	q := queue.NewInMemoryQueue(cfg.Queue.MaxSize)
	manager := jobs.NewManager(q, coord, pipeline.ExcelReports(logger), sinks, store, m, jobs.Options{
		OutputDir: cfg.Scraper.OutputDir,
		Period:    models.Period(cfg.Scraper.Period),
	}, logger)
	go manager.Start(ctx)

	handlers := api.NewHandlers(manager, history, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
		Registry:       m.Registry,
		Backlog:        backlog,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		q.Close()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
