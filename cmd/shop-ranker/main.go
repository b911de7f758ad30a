package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/maltedev/shop-ranking-scraper/internal/app"
	"github.com/maltedev/shop-ranking-scraper/internal/config"
	"github.com/maltedev/shop-ranking-scraper/internal/events"
	"github.com/maltedev/shop-ranking-scraper/internal/metrics"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/parser"
	"github.com/maltedev/shop-ranking-scraper/internal/pipeline"
	"github.com/maltedev/shop-ranking-scraper/internal/report"
	"github.com/maltedev/shop-ranking-scraper/internal/storage"
)

const pollInterval = 100 * time.Millisecond

func main() {
	var (
		shops       = flag.String("shops", "", "Comma-separated shop names or shop URLs")
		shopsFile   = flag.String("shops-file", "", "File with one shop name or URL per line")
		outDir      = flag.String("out", "", "Directory for the report (default SCRAPER_OUTPUT_DIR)")
		period      = flag.String("period", "", "Ranking period: D, W or M (default SCRAPER_PERIOD)")
		headless    = flag.Bool("headless", true, "Run browser in headless mode")
		historyFile = flag.String("history", "", "JSON file recording the last outcome of every shop")
		retryFailed = flag.Bool("retry-failed", false, "Also run shops whose last attempt in -history failed")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Scraper.OutputDir = *outDir
	}
	if *period != "" {
		p, err := models.ParsePeriod(*period)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg.Scraper.Period = string(p)
	}
	cfg.Browser.Headless = *headless && cfg.Browser.Headless
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	lines, err := readShops(*shops, *shopsFile)
	if err != nil {
		logger.Error("failed to read shops", "error", err)
		os.Exit(1)
	}

	sinks := events.Multi{}

	var history *storage.HistoryStore
	if *historyFile != "" {
		history, err = storage.NewHistoryStore(*historyFile)
		if err != nil {
			logger.Error("failed to open history", "path", *historyFile, "error", err)
			os.Exit(1)
		}
		if *retryFailed {
			lines = append(lines, history.Failed()...)
		}
		sinks = append(sinks, history)
	}

	list := dedupe(parser.NormalizeShops(lines))
	if len(list) == 0 {
		fmt.Fprintln(os.Stderr, "no shops given: use -shops or -shops-file")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisSink, err := app.NewRedisSink(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to set up progress stream", "error", err)
		os.Exit(1)
	}
	if redisSink != nil {
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
	}

	m := metrics.New()
	coord, err := app.NewCoordinator(cfg, nil, m, logger)
	if err != nil {
		logger.Error("failed to set up scraper", "error", err)
		os.Exit(1)
	}
	defer coord.Close()

	outputPath := report.OutputPath(cfg.Scraper.OutputDir, time.Now())
	if err := coord.Configure(outputPath, models.Period(cfg.Scraper.Period)); err != nil {
		logger.Error("failed to configure scraper", "error", err)
		os.Exit(1)
	}

	feed := events.NewChannelSink(64)
	sinks = append(sinks, feed)

	runner := pipeline.NewRunner(coord, pipeline.ExcelReports(logger), sinks, m, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go handleSignals(sigChan, runner.Stop, func() {
		fmt.Fprintln(os.Stderr, "aborting, the report is not saved")
		os.Exit(130)
	})

	type result struct {
		summary *pipeline.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := runner.Run(ctx, uuid.New().String(), list, outputPath)
		done <- result{s, err}
	}()

	fmt.Printf("collecting %d shops (%s) into %s\n", len(list), cfg.Scraper.Period, outputPath)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var res result
	for finished := false; !finished; {
		select {
		case <-ticker.C:
			printEvents(os.Stdout, feed.Drain())
		case res = <-done:
			printEvents(os.Stdout, feed.Drain())
			finished = true
		}
	}

	if res.err != nil {
		logger.Error("run failed", "error", res.err)
		os.Exit(1)
	}

	s := res.summary
	fmt.Printf("\n%d shops, %d failed, %d rows in %s\n", s.Shops, s.Failed, s.Rows, s.Duration.Round(time.Second))
	if s.Stopped {
		fmt.Println("run was stopped before all shops were processed")
	}
	if n := feed.Dropped(); n > 0 {
		fmt.Fprintf(os.Stderr, "%d progress lines were skipped while the terminal fell behind\n", n)
	}
	if history != nil {
		fmt.Printf("history: %v\n", history.Stats())
	}
	if !s.Saved {
		fmt.Fprintf(os.Stderr, "report could not be saved to %s\n", s.OutputPath)
		os.Exit(1)
	}
	fmt.Printf("saved %s\n", s.OutputPath)
}

// handleSignals calls stop on the first signal and abort on the second.
func handleSignals(sig <-chan os.Signal, stop, abort func()) {
	if _, ok := <-sig; !ok {
		return
	}
	fmt.Fprintln(os.Stderr, "stopping after the current shop, interrupt again to abort...")
	stop()
	if _, ok := <-sig; !ok {
		return
	}
	abort()
}

func readShops(list, file string) ([]string, error) {
	var lines []string
	if list != "" {
		lines = append(lines, strings.Split(list, ",")...)
	}
	if file == "" {
		return lines, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

func dedupe(shops []string) []string {
	seen := make(map[string]bool, len(shops))
	out := shops[:0]
	for _, s := range shops {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func printEvents(w io.Writer, evs []events.Event) {
	for _, e := range evs {
		switch e.Kind {
		case events.KindShopStarted:
			fmt.Fprintf(w, "▶ %s\n", e.Shop)
		case events.KindShopCompleted:
			fmt.Fprintf(w, "✔ %s: %d rows\n", e.Shop, e.Rows)
			printPreview(w, e.Preview)
		case events.KindShopFailed:
			fmt.Fprintf(w, "✘ %s: %s (%d rows kept)\n", e.Shop, e.Error, e.Rows)
			printPreview(w, e.Preview)
		case events.KindRunCompleted:
			if e.Error != "" {
				fmt.Fprintf(w, "run ended: %s\n", e.Error)
			}
		}
	}
}

func printPreview(w io.Writer, rows []models.PreviewRow) {
	if len(rows) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tName\tJPY\tKRW\tReviews\tURL")
	for i, r := range rows {
		fmt.Fprintf(tw, "  %d\t%s\t%d\t%.2f\t%d\t%s\n", i+1, truncate(r.Name, 40), r.JPY, r.KRW, r.Reviews, r.URL)
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
