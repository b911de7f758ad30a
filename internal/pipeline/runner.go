package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/maltedev/shop-ranking-scraper/internal/events"
	"github.com/maltedev/shop-ranking-scraper/internal/metrics"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/parser"
)

// ShopRunner scrapes one shop. The result may hold partial rows when the
// error is non-nil.
type ShopRunner interface {
	RunShop(ctx context.Context, shop string) (*models.ShopRunResult, error)
}

// Report is the consolidated document a run writes into.
type Report interface {
	AppendShopResult(res *models.ShopRunResult) (int, error)
	Finalize(path string) error
	Close() error
}

// ReportFactory creates the document of one run.
type ReportFactory func() (Report, error)

// Summary describes a finished run.
type Summary struct {
	RunID      string
	OutputPath string
	Shops      int
	Failed     int
	Rows       int
	Stopped    bool
	Saved      bool
	Duration   time.Duration
}

// Runner drives the shop sequence of a run on a single goroutine.
type Runner struct {
	shops     ShopRunner
	newReport ReportFactory
	sink      events.Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	stop      atomic.Bool
}

func NewRunner(shops ShopRunner, newReport ReportFactory, sink events.Sink, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if sink == nil {
		sink = events.Multi{}
	}
	return &Runner{
		shops:     shops,
		newReport: newReport,
		sink:      sink,
		metrics:   m,
		logger:    logger.With("component", "runner"),
	}
}

// Stop asks the running sequence to end after the shop in flight. A Stop
// that arrives before Run starts makes that run skip every shop.
func (r *Runner) Stop() {
	r.stop.Store(true)
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	return r.stop.Load() || ctx.Err() != nil
}

// Run processes shops in order and writes every collected row to the
// document saved at outputPath. Cancelling ctx behaves like Stop. Exactly
// one RunCompleted event is published, always last.
func (r *Runner) Run(ctx context.Context, runID string, shops []string, outputPath string) (*Summary, error) {
	defer r.stop.Store(false)
	start := time.Now()
	shops = parser.NormalizeShops(shops)

	// shops already started run to completion and every event is delivered
	// even after a stop
	work := context.WithoutCancel(ctx)

	summary := &Summary{RunID: runID, OutputPath: outputPath}
	logger := r.logger.With("run_id", runID)

	doc, err := r.newReport()
	if err != nil {
		err = fmt.Errorf("failed to create report: %w", err)
		done := events.New(events.KindRunCompleted)
		done.Error = err.Error()
		r.publish(work, runID, done)
		r.metrics.ObserveRun(false)
		return summary, err
	}
	defer func() {
		if err := doc.Close(); err != nil {
			logger.Warn("failed to release report", "error", err)
		}
	}()

	logger.Info("run started", "shops", len(shops), "output", outputPath)

	for i, shop := range shops {
		if r.stopRequested(ctx) {
			summary.Stopped = true
			logger.Info("run stopped", "processed", i, "skipped", len(shops)-i)
			break
		}

		started := events.New(events.KindShopStarted)
		started.Shop = shop
		r.publish(work, runID, started)

		rows, preview, shopErr := r.runShop(work, doc, shop)
		summary.Shops++
		summary.Rows += rows

		e := events.New(events.KindShopCompleted)
		if shopErr != nil {
			e = events.New(events.KindShopFailed)
			e.Error = shopErr.Error()
			summary.Failed++
		}
		e.Shop = shop
		e.Rows = rows
		e.OutputPath = outputPath
		e.Preview = preview
		r.publish(work, runID, e)
	}

	if err := doc.Finalize(outputPath); err != nil {
		logger.Warn("failed to save report", "path", outputPath, "error", err)
	} else {
		summary.Saved = true
	}
	r.metrics.ObserveRun(summary.Saved)

	summary.Duration = time.Since(start)

	done := events.New(events.KindRunCompleted)
	done.OutputPath = outputPath
	done.Shops = summary.Shops
	done.Failed = summary.Failed
	done.Rows = summary.Rows
	done.Stopped = summary.Stopped
	done.Saved = summary.Saved
	r.publish(work, runID, done)

	logger.Info("run completed",
		"shops", summary.Shops,
		"failed", summary.Failed,
		"rows", summary.Rows,
		"stopped", summary.Stopped,
		"saved", summary.Saved,
		"duration", summary.Duration)

	return summary, nil
}

// runShop scrapes one shop and appends whatever it returned. A panic in
// the scrape is contained to this shop.
func (r *Runner) runShop(ctx context.Context, doc Report, shop string) (rows int, preview []models.PreviewRow, err error) {
	start := time.Now()
	logger := r.logger.With("shop", shop)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while scraping %s: %v", shop, p)
			logger.Error("shop panicked", "panic", p)
		}
		outcome := "completed"
		if err != nil {
			outcome = "failed"
		}
		r.metrics.ObserveShop(outcome, time.Since(start))
	}()

	res, err := r.shops.RunShop(ctx, shop)
	if err != nil {
		logger.Warn("shop failed", "error", err)
	}

	if res != nil && len(res.Items) > 0 {
		n, appendErr := doc.AppendShopResult(res)
		rows = n
		r.metrics.AddReportRows(n)
		if appendErr != nil {
			logger.Error("failed to append rows", "error", appendErr)
			if err == nil {
				err = appendErr
			}
		}
		preview = res.PreviewRows()[:n]
	}

	return rows, preview, err
}

func (r *Runner) publish(ctx context.Context, runID string, e events.Event) {
	e.RunID = runID
	if err := r.sink.Publish(ctx, e); err != nil {
		r.logger.Warn("failed to publish event", "event_type", e.Kind, "shop", e.Shop, "error", err)
	}
}
