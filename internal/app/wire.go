// Package app assembles the collector's components from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maltedev/shop-ranking-scraper/internal/browser"
	"github.com/maltedev/shop-ranking-scraper/internal/config"
	"github.com/maltedev/shop-ranking-scraper/internal/events"
	"github.com/maltedev/shop-ranking-scraper/internal/fetch"
	"github.com/maltedev/shop-ranking-scraper/internal/metrics"
	"github.com/maltedev/shop-ranking-scraper/internal/ratelimit"
	"github.com/maltedev/shop-ranking-scraper/internal/scraper"
	"github.com/redis/go-redis/v9"
)

func BrowserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.Device = cfg.Browser.Device
	opts.Locale = cfg.Browser.Locale
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.BlockImages = cfg.Browser.BlockImages
	opts.ProxyServer = cfg.Browser.ProxyServer
	return opts
}

func ScraperConfig(cfg *config.Config) scraper.Config {
	return scraper.Config{
		BaseURL:     cfg.Scraper.BaseURL,
		MaxItems:    cfg.Scraper.MaxItems,
		WaitTimeout: cfg.Scraper.WaitTimeout,
		Rate:        cfg.Scraper.JPYToKRW,
	}
}

// NewCoordinator builds the shop coordinator. The browser is started
// lazily by the first shop.
func NewCoordinator(cfg *config.Config, factory scraper.HandleFactory, m *metrics.Metrics, logger *slog.Logger) (*scraper.Coordinator, error) {
	if factory == nil {
		factory = scraper.BrowserFactory(BrowserOptions(cfg))
	}

	fetchOpts := fetch.DefaultOptions()
	fetchOpts.Timeout = cfg.Fetch.Timeout
	fetchOpts.CacheSize = cfg.Fetch.CacheSize
	fetchOpts.MaxBytes = cfg.Fetch.MaxBytes

	images, err := fetch.NewImageFetcher(&http.Client{Timeout: cfg.Fetch.Timeout}, nil, fetchOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create image fetcher: %w", err)
	}

	limiter := ratelimit.NewFixedDelay(cfg.Scraper.RequestDelay)
	return scraper.NewCoordinator(ScraperConfig(cfg), factory, images, limiter, m, logger), nil
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisSink returns a progress sink on the configured stream, or nil
// when Redis is disabled.
func NewRedisSink(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*events.RedisSink, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return events.NewRedisSink(client, cfg.Stream, cfg.MaxLen, logger), nil
}
