package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/shop-ranking-scraper/internal/app"
	"github.com/maltedev/shop-ranking-scraper/internal/config"
	"github.com/maltedev/shop-ranking-scraper/internal/consumer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := app.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	logger.Info("connected to Redis", "addr", cfg.Redis.Addr)

	client := consumer.NewAPIClient(&http.Client{Timeout: 30 * time.Second}, cfg.Consumer.ServerURL, cfg.Consumer.MaxRetries, logger)
	c := consumer.New(rdb, client, consumer.Config{
		RequestStream: cfg.Consumer.RequestStream,
		FinishStream:  cfg.Consumer.FinishStream,
		Group:         cfg.Consumer.Group,
		Name:          cfg.Consumer.Name,
		Block:         cfg.Consumer.Block,
	}, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down...")
		cancel()
	}()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
}
