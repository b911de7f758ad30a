package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/shop-ranking-scraper/internal/app"
	"github.com/maltedev/shop-ranking-scraper/internal/browser"
	"github.com/maltedev/shop-ranking-scraper/internal/config"
	"github.com/maltedev/shop-ranking-scraper/internal/parser"
	"github.com/maltedev/shop-ranking-scraper/internal/scraper"
)

func main() {
	var (
		shop     = flag.String("shop", "", "Shop name or shop URL to probe")
		html     = flag.String("html", "probe.html", "HTML output filename")
		headless = flag.Bool("headless", false, "Run browser in headless mode")
	)
	flag.Parse()

	name := parser.NormalizeShop(*shop)
	if name == "" {
		fmt.Println("Please provide a shop with -shop")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stderr)
	logger.Info("starting probe", "shop", name)

	opts := app.BrowserOptions(cfg)
	opts.Headless = *headless
	opts.BlockImages = false

	b, err := browser.New(opts)
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := scraper.Probe(ctx, b, app.ScraperConfig(cfg), name)
	if err != nil {
		logger.Error("probe failed", "error", err)
		if rep == nil {
			os.Exit(1)
		}
	}

	if rep.HTML != "" {
		if err := os.WriteFile(*html, []byte(rep.HTML), 0644); err != nil {
			logger.Error("failed to save HTML", "error", err)
		} else {
			logger.Info("HTML saved", "file", *html)
		}
	}

	logger.Info("probe result",
		"url", rep.URL,
		"period_control", rep.PeriodControl,
		"ranking_list", rep.RankingList,
		"entries", rep.Entries,
	)
	if rep.Entries > 0 {
		logger.Info("first entry", "name", rep.FirstName, "price", rep.FirstPrice, "link", rep.FirstLink)
	}

	if !rep.OK() {
		logger.Warn("ranking markup incomplete; selectors may have changed")
		os.Exit(1)
	}
}
