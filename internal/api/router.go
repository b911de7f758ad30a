package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backlog reports outbox delivery health. *database.Relay satisfies it.
type Backlog interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
	// Backlog adds outbox counts to /health when set.
	Backlog Backlog
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health(cfg.Backlog))

	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.CreateRun)
			r.Get("/", h.ListRuns)
			r.Get("/{runID}", h.GetRun)
			r.Get("/{runID}/preview", h.GetPreview)
			r.Post("/{runID}/stop", h.StopRun)
		})

		r.Get("/history", h.ListHistory)
		r.Get("/history/{runID}/items", h.GetHistoryItems)
	})

	return r
}

func (h *Handlers) health(backlog Backlog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{"status": "ok"}
		status := http.StatusOK

		if backlog != nil {
			pending, deadLetter, err := backlog.Backlog(r.Context())
			if err != nil {
				h.logger.Warn("failed to read outbox backlog", "error", err)
				health["status"] = "error"
				health["message"] = "outbox unavailable"
				h.respondJSON(w, http.StatusServiceUnavailable, health)
				return
			}

			health["outbox"] = map[string]interface{}{
				"pending":     pending,
				"dead_letter": deadLetter,
			}
			if pending > pendingWarnThreshold {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if deadLetter > deadLetterErrorThreshold {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}

		h.respondJSON(w, status, health)
	}
}
