package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/shop-ranking-scraper/internal/database"
	"github.com/maltedev/shop-ranking-scraper/internal/events"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/pipeline"
	"github.com/maltedev/shop-ranking-scraper/internal/queue"
	"github.com/maltedev/shop-ranking-scraper/internal/scraper/scrapertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeScraper struct {
	mu         sync.Mutex
	rows       map[string]int
	fail       map[string]error
	gate       chan struct{}
	started    chan string
	configured []models.Period
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{rows: map[string]int{}, fail: map[string]error{}}
}

func (f *fakeScraper) Configure(savePath string, period models.Period) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, period)
	return nil
}

func (f *fakeScraper) RunShop(ctx context.Context, shop string) (*models.ShopRunResult, error) {
	if f.started != nil {
		f.started <- shop
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	n, err := f.rows[shop], f.fail[shop]
	f.mu.Unlock()

	res := &models.ShopRunResult{Shop: shop, Period: models.PeriodWeekly}
	for i := 0; i < n; i++ {
		res.Items = append(res.Items, models.ItemRecord{
			Shop:        shop,
			Name:        fmt.Sprintf("%s item %d", shop, i+1),
			PriceJPY:    1980,
			PriceKRW:    18612,
			ProductURL:  scrapertest.DetailURL(shop, i),
			ImageURL:    scrapertest.ImageURL(shop, i),
			ImageIndex:  i,
			ReviewCount: 10 + i,
		})
		res.Images = append(res.Images, models.ImageAsset{Index: i, Data: scrapertest.PNG(), Ext: ".png"})
	}
	return res, err
}

// MockRunStore is a mock for RunStore
type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) Create(ctx context.Context, run *database.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRunStore) MarkRunning(ctx context.Context, id uuid.UUID, outputPath string) error {
	return m.Called(ctx, id, outputPath).Error(0)
}

func (m *MockRunStore) SaveShopItems(ctx context.Context, runID uuid.UUID, res *models.ShopRunResult) (int64, error) {
	args := m.Called(ctx, runID, res)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRunStore) Finish(ctx context.Context, run *database.Run) error {
	return m.Called(ctx, run).Error(0)
}

func newTestManager(t *testing.T, s Scraper, store RunStore, sink events.Sink, q queue.Queue) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	if q == nil {
		q = queue.NewInMemoryQueue(10)
	}
	m := NewManager(q, s, pipeline.ExcelReports(slog.Default()), sink, store, nil,
		Options{OutputDir: dir}, slog.Default())
	return m, dir
}

func startWorker(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForStatus(t *testing.T, m *Manager, id, status string) *Status {
	t.Helper()
	var st *Status
	require.Eventually(t, func() bool {
		var err error
		st, err = m.Get(id)
		return err == nil && st.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestSubmitValidates(t *testing.T) {
	m, _ := newTestManager(t, newFakeScraper(), nil, nil, nil)
	ctx := context.Background()

	_, err := m.Submit(ctx, []string{" ", ""}, "", "")
	assert.ErrorIs(t, err, ErrNoShops)

	_, err = m.Submit(ctx, []string{"anua"}, "X", "")
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	st, err := m.Submit(ctx, []string{"https://m.qoo10.jp/shop/anua/", "romand"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"anua", "romand"}, st.Shops)
	assert.Equal(t, models.PeriodWeekly, st.Period)
	assert.Equal(t, StatusQueued, st.Status)
	assert.Len(t, m.List(), 1)
}

func TestSubmitQueueFull(t *testing.T) {
	m, _ := newTestManager(t, newFakeScraper(), nil, nil, queue.NewInMemoryQueue(1))
	ctx := context.Background()

	_, err := m.Submit(ctx, []string{"anua"}, "", "")
	require.NoError(t, err)

	_, err = m.Submit(ctx, []string{"romand"}, "", "")
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	assert.Len(t, m.List(), 1)
}

func TestRunCompletes(t *testing.T) {
	s := newFakeScraper()
	s.rows["anua"] = 3
	s.rows["romand"] = 2
	m, dir := newTestManager(t, s, nil, nil, nil)
	startWorker(t, m)

	st, err := m.Submit(context.Background(), []string{"anua", "romand"}, models.PeriodDaily, "")
	require.NoError(t, err)

	done := waitForStatus(t, m, st.ID, StatusCompleted)
	assert.Equal(t, 2, done.ShopsDone)
	assert.Equal(t, 0, done.ShopsFailed)
	assert.Equal(t, 5, done.Rows)
	assert.Equal(t, 100.0, done.Progress)
	assert.True(t, done.Saved)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, dir, filepath.Dir(done.OutputPath))

	_, err = os.Stat(done.OutputPath)
	assert.NoError(t, err)

	preview, err := m.Preview(st.ID)
	require.NoError(t, err)
	require.Len(t, preview, 5)
	assert.Equal(t, "anua", preview[0].Shop)
	assert.Equal(t, "romand", preview[4].Shop)

	assert.Equal(t, []models.Period{models.PeriodDaily}, s.configured)
	assert.ErrorIs(t, m.Stop(context.Background(), st.ID), ErrRunFinished)
}

func TestRunCountsFailedShops(t *testing.T) {
	s := newFakeScraper()
	s.rows["anua"] = 2
	s.fail["anua"] = errors.New("navigation timeout")
	s.rows["romand"] = 1
	m, _ := newTestManager(t, s, nil, nil, nil)
	startWorker(t, m)

	st, err := m.Submit(context.Background(), []string{"anua", "romand"}, "", "")
	require.NoError(t, err)

	done := waitForStatus(t, m, st.ID, StatusCompleted)
	assert.Equal(t, 2, done.ShopsDone)
	assert.Equal(t, 1, done.ShopsFailed)
	assert.Equal(t, 3, done.Rows)
}

func TestStopQueuedRun(t *testing.T) {
	m, _ := newTestManager(t, newFakeScraper(), nil, nil, nil)

	st, err := m.Submit(context.Background(), []string{"anua"}, "", "")
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), st.ID))

	got, err := m.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.True(t, got.Stopped)
	assert.Equal(t, 0, m.queue.Size())

	assert.ErrorIs(t, m.Stop(context.Background(), "missing"), ErrRunNotFound)
}

func TestStopRunningRunFinishesCurrentShop(t *testing.T) {
	s := newFakeScraper()
	s.rows["anua"] = 2
	s.rows["romand"] = 2
	s.gate = make(chan struct{})
	s.started = make(chan string, 2)
	m, _ := newTestManager(t, s, nil, nil, nil)
	startWorker(t, m)

	st, err := m.Submit(context.Background(), []string{"anua", "romand"}, "", "")
	require.NoError(t, err)

	assert.Equal(t, "anua", <-s.started)
	running := waitForStatus(t, m, st.ID, StatusRunning)
	assert.Equal(t, "anua", running.CurrentShop)

	require.NoError(t, m.Stop(context.Background(), st.ID))
	close(s.gate)

	done := waitForStatus(t, m, st.ID, StatusStopped)
	assert.True(t, done.Stopped)
	assert.True(t, done.Saved)
	assert.Equal(t, 1, done.ShopsDone)
	assert.Equal(t, 2, done.Rows)
	assert.Equal(t, 50.0, done.Progress)
}

func TestRunPersistsHistory(t *testing.T) {
	s := newFakeScraper()
	s.rows["anua"] = 2
	s.rows["empty"] = 0
	store := new(MockRunStore)

	store.On("Create", mock.Anything, mock.MatchedBy(func(r *database.Run) bool {
		return r.Status == StatusQueued && len(r.Shops) == 2
	})).Return(nil)
	store.On("MarkRunning", mock.Anything, mock.Anything, mock.AnythingOfType("string")).Return(nil)
	store.On("SaveShopItems", mock.Anything, mock.Anything, mock.MatchedBy(func(res *models.ShopRunResult) bool {
		return res.Shop == "anua" && len(res.Items) == 2
	})).Return(int64(2), nil)
	finished := make(chan struct{})
	store.On("Finish", mock.Anything, mock.MatchedBy(func(r *database.Run) bool {
		return r.Status == StatusCompleted && r.Rows == 2 && r.Saved && r.Error == nil
	})).Return(nil).Run(func(mock.Arguments) { close(finished) })

	rec := events.NewChannelSink(16)
	m, _ := newTestManager(t, s, store, rec, nil)
	startWorker(t, m)

	st, err := m.Submit(context.Background(), []string{"anua", "empty"}, "", "")
	require.NoError(t, err)

	var kinds []events.Kind
	timeout := time.After(5 * time.Second)
	for len(kinds) == 0 || kinds[len(kinds)-1] != events.KindRunCompleted {
		select {
		case e := <-rec.Events():
			assert.Equal(t, st.ID, e.RunID)
			kinds = append(kinds, e.Kind)
		case <-timeout:
			t.Fatalf("run did not complete, got %v", kinds)
		}
	}
	assert.Equal(t, []events.Kind{
		events.KindShopStarted, events.KindShopCompleted,
		events.KindShopStarted, events.KindShopCompleted,
		events.KindRunCompleted,
	}, kinds)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("run outcome was not stored")
	}
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "SaveShopItems", 1)
	assert.Equal(t, StatusCompleted, waitForStatus(t, m, st.ID, StatusCompleted).Status)
}

func TestStoreFailuresDoNotFailRun(t *testing.T) {
	s := newFakeScraper()
	s.rows["anua"] = 1
	store := new(MockRunStore)
	store.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))
	store.On("MarkRunning", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))
	store.On("SaveShopItems", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))
	store.On("Finish", mock.Anything, mock.Anything).Return(errors.New("db down"))

	m, _ := newTestManager(t, s, store, nil, nil)
	startWorker(t, m)

	st, err := m.Submit(context.Background(), []string{"anua"}, "", "")
	require.NoError(t, err)

	done := waitForStatus(t, m, st.ID, StatusCompleted)
	assert.Equal(t, 1, done.Rows)
}

func TestRunFailsWhenReportCannotBeSaved(t *testing.T) {
	s := newFakeScraper()
	s.rows["anua"] = 1
	m, dir := newTestManager(t, s, nil, nil, nil)
	startWorker(t, m)

	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	st, err := m.Submit(context.Background(), []string{"anua"}, "", blocker)
	require.NoError(t, err)

	done := waitForStatus(t, m, st.ID, StatusFailed)
	assert.False(t, done.Saved)
	assert.NotEmpty(t, done.Error)
	assert.Equal(t, 1, done.Rows)
}

func TestGetUnknownRun(t *testing.T) {
	m, _ := newTestManager(t, newFakeScraper(), nil, nil, nil)

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = m.Preview("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
