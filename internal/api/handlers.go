package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maltedev/shop-ranking-scraper/internal/database"
	"github.com/maltedev/shop-ranking-scraper/internal/jobs"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
)

// RunManager is the part of *jobs.Manager the handlers use.
type RunManager interface {
	Submit(ctx context.Context, shops []string, period models.Period, outputDir string) (*jobs.Status, error)
	Get(id string) (*jobs.Status, error)
	Preview(id string) ([]models.PreviewRow, error)
	List() []*jobs.Status
	Stop(ctx context.Context, id string) error
}

// History reads stored runs. *database.RunRepository satisfies it.
type History interface {
	List(ctx context.Context, limit int) ([]*database.Run, error)
	Items(ctx context.Context, runID uuid.UUID) ([]models.ItemRecord, error)
}

type Handlers struct {
	runs    RunManager
	history History
	logger  *slog.Logger
}

// NewHandlers builds the handlers. history may be nil when no database is
// configured.
func NewHandlers(runs RunManager, history History, logger *slog.Logger) *Handlers {
	return &Handlers{
		runs:    runs,
		history: history,
		logger:  logger.With("component", "api"),
	}
}

// CreateRunRequest asks for a ranking run over a list of shops
type CreateRunRequest struct {
	Shops     []string `json:"shops"`
	Period    string   `json:"period"`
	OutputDir string   `json:"output_dir"`
}

type CreateRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RunResponse is a run's status as served to clients
type RunResponse struct {
	*jobs.Status
	PreviewRows int `json:"preview_rows"`
}

func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var period models.Period
	if req.Period != "" {
		p, err := models.ParsePeriod(req.Period)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		period = p
	}

	st, err := h.runs.Submit(r.Context(), req.Shops, period, req.OutputDir)
	switch {
	case errors.Is(err, jobs.ErrNoShops), errors.Is(err, jobs.ErrInvalidPeriod):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to submit run", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "failed to queue run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{ID: st.ID, Status: st.Status})
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	st, err := h.runs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	h.respondJSON(w, http.StatusOK, RunResponse{Status: st, PreviewRows: len(st.Preview)})
}

func (h *Handlers) GetPreview(w http.ResponseWriter, r *http.Request) {
	rows, err := h.runs.Preview(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	h.respondJSON(w, http.StatusOK, rows)
}

func (h *Handlers) StopRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	err := h.runs.Stop(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrRunNotFound):
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, jobs.ErrRunFinished):
		h.respondError(w, http.StatusConflict, "run already finished")
		return
	case err != nil:
		h.logger.Error("failed to stop run", "run_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to stop run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "stopping"})
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.List()
	out := make([]RunResponse, 0, len(runs))
	for _, st := range runs {
		out = append(out, RunResponse{Status: st, PreviewRows: len(st.Preview)})
	}
	h.respondJSON(w, http.StatusOK, out)
}

// ListHistory serves stored runs, newest first.
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusNotImplemented, "run history is not enabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			h.respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list run history", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*database.Run{}
	}

	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetHistoryItems(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondError(w, http.StatusNotImplemented, "run history is not enabled")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	items, err := h.history.Items(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get run items", "run_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get items")
		return
	}
	if items == nil {
		items = []models.ItemRecord{}
	}

	h.respondJSON(w, http.StatusOK, items)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
