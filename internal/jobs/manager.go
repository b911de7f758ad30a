package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/shop-ranking-scraper/internal/database"
	"github.com/maltedev/shop-ranking-scraper/internal/events"
	"github.com/maltedev/shop-ranking-scraper/internal/metrics"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/parser"
	"github.com/maltedev/shop-ranking-scraper/internal/pipeline"
	"github.com/maltedev/shop-ranking-scraper/internal/queue"
	"github.com/maltedev/shop-ranking-scraper/internal/report"
)

const (
	StatusQueued    = database.RunStatusQueued
	StatusRunning   = database.RunStatusRunning
	StatusCompleted = database.RunStatusCompleted
	StatusStopped   = database.RunStatusStopped
	StatusFailed    = database.RunStatusFailed
)

var (
	ErrNoShops       = errors.New("no shops given")
	ErrRunNotFound   = errors.New("run not found")
	ErrRunFinished   = errors.New("run already finished")
	ErrInvalidPeriod = errors.New("invalid period")
)

// Scraper is the shop runner a Manager drives. *scraper.Coordinator
// satisfies it.
type Scraper interface {
	pipeline.ShopRunner
	Configure(savePath string, period models.Period) error
}

// RunStore persists run history. *database.RunRepository satisfies it.
type RunStore interface {
	Create(ctx context.Context, run *database.Run) error
	MarkRunning(ctx context.Context, id uuid.UUID, outputPath string) error
	SaveShopItems(ctx context.Context, runID uuid.UUID, res *models.ShopRunResult) (int64, error)
	Finish(ctx context.Context, run *database.Run) error
}

// Status is the observable state of one run.
type Status struct {
	ID          string              `json:"id"`
	Shops       []string            `json:"shops"`
	Period      models.Period       `json:"period"`
	Status      string              `json:"status"`
	OutputPath  string              `json:"output_path,omitempty"`
	CurrentShop string              `json:"current_shop,omitempty"`
	ShopsDone   int                 `json:"shops_done"`
	ShopsFailed int                 `json:"shops_failed"`
	Rows        int                 `json:"rows"`
	Progress    float64             `json:"progress"`
	Stopped     bool                `json:"stopped"`
	Saved       bool                `json:"saved"`
	Error       string              `json:"error,omitempty"`
	Preview     []models.PreviewRow `json:"-"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`

	stopRequested bool
}

func (s *Status) finished() bool {
	return s.Status == StatusCompleted || s.Status == StatusStopped || s.Status == StatusFailed
}

func (s *Status) clone() *Status {
	cp := *s
	cp.Shops = append([]string(nil), s.Shops...)
	cp.Preview = append([]models.PreviewRow(nil), s.Preview...)
	return &cp
}

type Options struct {
	OutputDir string
	Period    models.Period
}

// Manager accepts run requests, queues them and executes them one at a
// time on its worker. Progress of every run is kept in memory.
type Manager struct {
	mu     sync.RWMutex
	runs   map[string]*Status
	active map[string]context.CancelFunc

	queue     queue.Queue
	scraper   Scraper
	newReport pipeline.ReportFactory
	sink      events.Sink
	store     RunStore
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger
}

// NewManager wires a Manager. sink and store may be nil.
func NewManager(q queue.Queue, s Scraper, newReport pipeline.ReportFactory, sink events.Sink, store RunStore, m *metrics.Metrics, opts Options, logger *slog.Logger) *Manager {
	if opts.Period == "" {
		opts.Period = models.PeriodWeekly
	}
	return &Manager{
		runs:      make(map[string]*Status),
		active:    make(map[string]context.CancelFunc),
		queue:     q,
		scraper:   s,
		newReport: newReport,
		sink:      sink,
		store:     store,
		metrics:   m,
		opts:      opts,
		logger:    logger.With("component", "job_manager"),
	}
}

// Submit queues a run over shops. An empty period selects the default one
// and an empty outputDir the configured directory.
func (m *Manager) Submit(ctx context.Context, shops []string, period models.Period, outputDir string) (*Status, error) {
	shops = parser.NormalizeShops(shops)
	if len(shops) == 0 {
		return nil, ErrNoShops
	}
	if period == "" {
		period = m.opts.Period
	}
	if !period.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	if outputDir == "" {
		outputDir = m.opts.OutputDir
	}

	id := uuid.New()
	st := &Status{
		ID:        id.String(),
		Shops:     shops,
		Period:    period,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}

	if m.store != nil {
		if err := m.store.Create(ctx, &database.Run{
			ID:        id,
			Shops:     shops,
			Period:    string(period),
			Status:    StatusQueued,
			CreatedAt: st.CreatedAt,
		}); err != nil {
			m.logger.Warn("failed to record run", "run_id", st.ID, "error", err)
		}
	}

	m.mu.Lock()
	m.runs[st.ID] = st
	m.mu.Unlock()

	if err := m.queue.Push(&queue.Task{
		ID:        st.ID,
		Shops:     shops,
		Period:    period,
		OutputDir: outputDir,
		CreatedAt: st.CreatedAt,
	}); err != nil {
		m.mu.Lock()
		delete(m.runs, st.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue run: %w", err)
	}

	m.logger.Info("run queued", "run_id", st.ID, "shops", len(shops), "period", period)
	return st.clone(), nil
}

func (m *Manager) Get(id string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return st.clone(), nil
}

// Preview returns the rows collected so far by a run, in report order.
func (m *Manager) Preview(id string) ([]models.PreviewRow, error) {
	st, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if st.Preview == nil {
		return []models.PreviewRow{}, nil
	}
	return st.Preview, nil
}

// List returns every known run, newest first.
func (m *Manager) List() []*Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Status, 0, len(m.runs))
	for _, st := range m.runs {
		out = append(out, st.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stop drops a queued run or asks a running one to end after its current
// shop.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	st, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return ErrRunNotFound
	}
	if st.finished() {
		m.mu.Unlock()
		return ErrRunFinished
	}
	st.stopRequested = true
	if cancel, running := m.active[id]; running {
		m.mu.Unlock()
		cancel()
		m.logger.Info("stop requested", "run_id", id)
		return nil
	}
	m.mu.Unlock()

	if !m.queue.Remove(id) {
		// the worker already took it and stops it as soon as it starts
		return nil
	}

	now := time.Now()
	m.mu.Lock()
	st.Status = StatusStopped
	st.Stopped = true
	st.CompletedAt = &now
	final := st.clone()
	m.mu.Unlock()

	m.finishStored(ctx, final)
	m.logger.Info("queued run dropped", "run_id", id)
	return nil
}

// Start runs queued runs one after another until ctx is cancelled or the
// queue is closed.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && ctx.Err() == nil {
				m.logger.Error("failed to take next run", "error", err)
			}
			m.logger.Info("job worker stopping")
			return
		}
		m.process(ctx, task)
	}
}

func (m *Manager) process(ctx context.Context, task *queue.Task) {
	m.mu.RLock()
	_, known := m.runs[task.ID]
	m.mu.RUnlock()
	if !known {
		m.logger.Warn("skipping unknown run", "run_id", task.ID)
		return
	}

	outputPath := report.OutputPath(task.OutputDir, time.Now())
	if err := m.scraper.Configure(outputPath, task.Period); err != nil {
		m.fail(ctx, task.ID, err)
		return
	}

	var shops pipeline.ShopRunner = m.scraper
	runID, _ := uuid.Parse(task.ID)
	if m.store != nil {
		if err := m.store.MarkRunning(ctx, runID, outputPath); err != nil {
			m.logger.Warn("failed to mark run running", "run_id", task.ID, "error", err)
		}
		shops = &persistingRunner{inner: m.scraper, store: m.store, runID: runID, logger: m.logger}
	}

	sinks := events.Multi{events.SinkFunc(m.track)}
	if m.sink != nil {
		sinks = append(sinks, m.sink)
	}
	runner := pipeline.NewRunner(shops, m.newReport, sinks, m.metrics, m.logger)

	// cancelling runCtx is a graceful stop; the runner finishes the shop
	// in flight
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now()
	m.mu.Lock()
	st := m.runs[task.ID]
	st.Status = StatusRunning
	st.OutputPath = outputPath
	st.StartedAt = &now
	m.active[task.ID] = cancel
	if st.stopRequested {
		cancel()
	}
	m.mu.Unlock()

	summary, err := runner.Run(runCtx, task.ID, task.Shops, outputPath)

	m.mu.Lock()
	delete(m.active, task.ID)
	m.mu.Unlock()

	if err != nil {
		m.fail(ctx, task.ID, err)
		return
	}

	m.logger.Info("run finished",
		"run_id", task.ID,
		"rows", summary.Rows,
		"failed", summary.Failed,
		"stopped", summary.Stopped,
		"saved", summary.Saved)
}

// track folds the run's own events into its Status.
func (m *Manager) track(_ context.Context, e events.Event) error {
	m.mu.Lock()
	st, ok := m.runs[e.RunID]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	switch e.Kind {
	case events.KindShopStarted:
		st.CurrentShop = e.Shop
	case events.KindShopCompleted, events.KindShopFailed:
		st.CurrentShop = ""
		st.ShopsDone++
		if e.Kind == events.KindShopFailed {
			st.ShopsFailed++
		}
		st.Rows += e.Rows
		st.Preview = append(st.Preview, e.Preview...)
		st.Progress = float64(st.ShopsDone) / float64(len(st.Shops)) * 100
	case events.KindRunCompleted:
		now := time.Now()
		st.CurrentShop = ""
		st.Stopped = e.Stopped
		st.Saved = e.Saved
		st.Error = e.Error
		st.CompletedAt = &now
		switch {
		case e.Error != "" || !e.Saved:
			st.Status = StatusFailed
			if st.Error == "" {
				st.Error = "report was not saved"
			}
		case e.Stopped:
			st.Status = StatusStopped
		default:
			st.Status = StatusCompleted
			st.Progress = 100
		}
	}

	var final *Status
	if e.Kind == events.KindRunCompleted {
		final = st.clone()
	}
	m.mu.Unlock()

	if final != nil {
		m.finishStored(context.Background(), final)
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, id string, err error) {
	m.logger.Error("run failed", "run_id", id, "error", err)

	now := time.Now()
	m.mu.Lock()
	st := m.runs[id]
	if st.finished() {
		m.mu.Unlock()
		return
	}
	st.Status = StatusFailed
	st.Error = err.Error()
	st.CompletedAt = &now
	final := st.clone()
	m.mu.Unlock()

	m.finishStored(ctx, final)
}

func (m *Manager) finishStored(ctx context.Context, st *Status) {
	if m.store == nil {
		return
	}
	id, err := uuid.Parse(st.ID)
	if err != nil {
		return
	}

	run := &database.Run{
		ID:          id,
		Shops:       st.Shops,
		Period:      string(st.Period),
		OutputPath:  st.OutputPath,
		Status:      st.Status,
		ShopsDone:   st.ShopsDone,
		ShopsFailed: st.ShopsFailed,
		Rows:        st.Rows,
		Stopped:     st.Stopped,
		Saved:       st.Saved,
	}
	if st.Error != "" {
		msg := st.Error
		run.Error = &msg
	}

	if err := m.store.Finish(context.WithoutCancel(ctx), run); err != nil {
		m.logger.Warn("failed to record run outcome", "run_id", st.ID, "error", err)
	}
}
