package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors of a collection run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	ShopsTotal      *prometheus.CounterVec
	ShopDuration    prometheus.Histogram
	ItemsScraped    prometheus.Counter
	ImageErrors     prometheus.Counter
	ReportRows      prometheus.Counter
	HandleStarts    prometheus.Counter
	RunsTotal       *prometheus.CounterVec
	PersistFailures prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		ShopsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ranking_shops_total",
			Help: "Shops processed, by outcome.",
		}, []string{"outcome"}),
		ShopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ranking_shop_duration_seconds",
			Help:    "Wall time spent scraping one shop.",
			Buckets: []float64{5, 10, 20, 40, 60, 120, 240},
		}),
		ItemsScraped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ranking_items_scraped_total",
			Help: "Items enriched from their detail page.",
		}),
		ImageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ranking_image_errors_total",
			Help: "Product images that could not be fetched or embedded.",
		}),
		ReportRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ranking_report_rows_total",
			Help: "Rows appended to consolidated reports.",
		}),
		HandleStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ranking_browser_starts_total",
			Help: "Times the browser automation handle was started.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ranking_runs_total",
			Help: "Completed runs, by whether the report was saved.",
		}, []string{"saved"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ranking_report_persist_failures_total",
			Help: "Reports that could not be written to disk.",
		}),
	}

	registry.MustRegister(m.ShopsTotal, m.ShopDuration, m.ItemsScraped, m.ImageErrors,
		m.ReportRows, m.HandleStarts, m.RunsTotal, m.PersistFailures)

	return m
}

func (m *Metrics) ObserveShop(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ShopsTotal.WithLabelValues(outcome).Inc()
	m.ShopDuration.Observe(d.Seconds())
}

func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScraped.Inc()
}

func (m *Metrics) IncImageError() {
	if m == nil {
		return
	}
	m.ImageErrors.Inc()
}

func (m *Metrics) AddReportRows(n int) {
	if m == nil {
		return
	}
	m.ReportRows.Add(float64(n))
}

func (m *Metrics) IncHandleStart() {
	if m == nil {
		return
	}
	m.HandleStarts.Inc()
}

func (m *Metrics) ObserveRun(saved bool) {
	if m == nil {
		return
	}
	if saved {
		m.RunsTotal.WithLabelValues("true").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("false").Inc()
	m.PersistFailures.Inc()
}
