package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/shop-ranking-scraper/internal/database"
	"github.com/maltedev/shop-ranking-scraper/internal/jobs"
	"github.com/maltedev/shop-ranking-scraper/internal/metrics"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRunManager is a mock for RunManager
type MockRunManager struct {
	mock.Mock
}

func (m *MockRunManager) Submit(ctx context.Context, shops []string, period models.Period, outputDir string) (*jobs.Status, error) {
	args := m.Called(ctx, shops, period, outputDir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Status), args.Error(1)
}

func (m *MockRunManager) Get(id string) (*jobs.Status, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Status), args.Error(1)
}

func (m *MockRunManager) Preview(id string) ([]models.PreviewRow, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PreviewRow), args.Error(1)
}

func (m *MockRunManager) List() []*jobs.Status {
	return m.Called().Get(0).([]*jobs.Status)
}

func (m *MockRunManager) Stop(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// MockHistory is a mock for History
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) List(ctx context.Context, limit int) ([]*database.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*database.Run), args.Error(1)
}

func (m *MockHistory) Items(ctx context.Context, runID uuid.UUID) ([]models.ItemRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ItemRecord), args.Error(1)
}

type stubBacklog struct {
	pending, dead int64
	err           error
}

func (s stubBacklog) Backlog(context.Context) (int64, int64, error) {
	return s.pending, s.dead, s.err
}

func newTestServer(runs RunManager, history History, cfg RouterConfig) http.Handler {
	return NewRouter(NewHandlers(runs, history, slog.Default()), cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateRun(t *testing.T) {
	t.Run("queues the run", func(t *testing.T) {
		runs := new(MockRunManager)
		runs.On("Submit", mock.Anything, []string{"anua", "romand"}, models.PeriodMonthly, "out").
			Return(&jobs.Status{ID: "run-1", Status: jobs.StatusQueued}, nil)

		rec := do(t, newTestServer(runs, nil, RouterConfig{}), http.MethodPost, "/api/v1/runs",
			`{"shops":["anua","romand"],"period":"monthly","output_dir":"out"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		resp := decode[CreateRunResponse](t, rec)
		assert.Equal(t, "run-1", resp.ID)
		assert.Equal(t, jobs.StatusQueued, resp.Status)
		runs.AssertExpectations(t)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		runs := new(MockRunManager)
		runs.On("Submit", mock.Anything, []string{}, models.Period(""), "").Return(nil, jobs.ErrNoShops)
		srv := newTestServer(runs, nil, RouterConfig{})

		assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/runs", `{`).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/runs", `{"shops":["a"],"period":"yearly"}`).Code)

		rec := do(t, srv, http.MethodPost, "/api/v1/runs", `{"shops":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "no shops")
	})

	t.Run("queue full", func(t *testing.T) {
		runs := new(MockRunManager)
		runs.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("failed to queue run: queue is full"))

		rec := do(t, newTestServer(runs, nil, RouterConfig{}), http.MethodPost, "/api/v1/runs", `{"shops":["anua"]}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestGetRunAndPreview(t *testing.T) {
	runs := new(MockRunManager)
	runs.On("Get", "run-1").Return(&jobs.Status{
		ID:       "run-1",
		Status:   jobs.StatusRunning,
		Shops:    []string{"anua", "romand"},
		Progress: 50,
		Rows:     1,
		Preview:  []models.PreviewRow{{Shop: "anua", Name: "toner", JPY: 1980, KRW: 18612}},
	}, nil)
	runs.On("Get", "missing").Return(nil, jobs.ErrRunNotFound)
	runs.On("Preview", "run-1").Return([]models.PreviewRow{{Shop: "anua", Name: "toner", JPY: 1980, KRW: 18612}}, nil)
	runs.On("Preview", "missing").Return(nil, jobs.ErrRunNotFound)
	srv := newTestServer(runs, nil, RouterConfig{})

	rec := do(t, srv, http.MethodGet, "/api/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, 50.0, body["progress"])
	assert.Equal(t, 1.0, body["preview_rows"])
	assert.NotContains(t, body, "Preview")

	rec = do(t, srv, http.MethodGet, "/api/v1/runs/run-1/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]models.PreviewRow](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1980), rows[0].JPY)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/runs/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/runs/missing/preview", "").Code)
}

func TestStopRun(t *testing.T) {
	runs := new(MockRunManager)
	runs.On("Stop", mock.Anything, "run-1").Return(nil)
	runs.On("Stop", mock.Anything, "done").Return(jobs.ErrRunFinished)
	runs.On("Stop", mock.Anything, "missing").Return(jobs.ErrRunNotFound)
	srv := newTestServer(runs, nil, RouterConfig{})

	assert.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPost, "/api/v1/runs/run-1/stop", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/api/v1/runs/done/stop", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/v1/runs/missing/stop", "").Code)
	runs.AssertExpectations(t)
}

func TestListRuns(t *testing.T) {
	runs := new(MockRunManager)
	runs.On("List").Return([]*jobs.Status{
		{ID: "b", Status: jobs.StatusQueued, CreatedAt: time.Now()},
		{ID: "a", Status: jobs.StatusCompleted, CreatedAt: time.Now().Add(-time.Minute)},
	})

	rec := do(t, newTestServer(runs, nil, RouterConfig{}), http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[[]map[string]interface{}](t, rec)
	require.Len(t, body, 2)
	assert.Equal(t, "b", body[0]["id"])
}

func TestHistory(t *testing.T) {
	t.Run("disabled without a database", func(t *testing.T) {
		srv := newTestServer(new(MockRunManager), nil, RouterConfig{})
		assert.Equal(t, http.StatusNotImplemented, do(t, srv, http.MethodGet, "/api/v1/history", "").Code)
	})

	t.Run("lists stored runs", func(t *testing.T) {
		history := new(MockHistory)
		id := uuid.New()
		history.On("List", mock.Anything, 5).Return([]*database.Run{{ID: id, Status: "completed", Rows: 7}}, nil)
		history.On("Items", mock.Anything, id).Return([]models.ItemRecord{{Shop: "anua", Name: "toner"}}, nil)
		srv := newTestServer(new(MockRunManager), history, RouterConfig{})

		rec := do(t, srv, http.MethodGet, "/api/v1/history?limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)
		runs := decode[[]database.Run](t, rec)
		require.Len(t, runs, 1)
		assert.Equal(t, 7, runs[0].Rows)

		rec = do(t, srv, http.MethodGet, "/api/v1/history/"+id.String()+"/items", "")
		require.Equal(t, http.StatusOK, rec.Code)
		items := decode[[]models.ItemRecord](t, rec)
		assert.Equal(t, "toner", items[0].Name)

		assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/history?limit=0", "").Code)
		assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/history/not-a-uuid/items", "").Code)
		history.AssertExpectations(t)
	})
}

func TestHealth(t *testing.T) {
	t.Run("ok without outbox", func(t *testing.T) {
		rec := do(t, newTestServer(new(MockRunManager), nil, RouterConfig{}), http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode[map[string]interface{}](t, rec)["status"])
	})

	t.Run("warns on pending backlog", func(t *testing.T) {
		srv := newTestServer(new(MockRunManager), nil, RouterConfig{Backlog: stubBacklog{pending: 1001}})
		rec := do(t, srv, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "warning", decode[map[string]interface{}](t, rec)["status"])
	})

	t.Run("fails on dead letters", func(t *testing.T) {
		srv := newTestServer(new(MockRunManager), nil, RouterConfig{Backlog: stubBacklog{dead: 101}})
		assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/health", "").Code)
	})

	t.Run("fails when outbox unreadable", func(t *testing.T) {
		srv := newTestServer(new(MockRunManager), nil, RouterConfig{Backlog: stubBacklog{err: errors.New("db down")}})
		assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/health", "").Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.AddReportRows(3)

	rec := do(t, newTestServer(new(MockRunManager), nil, RouterConfig{Registry: m.Registry}), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ranking_report_rows_total 3")
}
