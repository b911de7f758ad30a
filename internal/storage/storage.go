package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/shop-ranking-scraper/internal/events"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ShopStatus is the last known outcome of a shop across runs.
type ShopStatus struct {
	Shop       string    `json:"shop"`
	Status     string    `json:"status"`
	RunID      string    `json:"run_id"`
	Rows       int       `json:"rows"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HistoryStore keeps per-shop outcomes in a JSON file. It is an
// events.Sink, so it can be fanned into a run's event stream.
type HistoryStore struct {
	mu       sync.RWMutex
	shops    map[string]*ShopStatus
	filename string
}

func NewHistoryStore(filename string) (*HistoryStore, error) {
	hs := &HistoryStore{
		shops:    make(map[string]*ShopStatus),
		filename: filename,
	}

	if err := hs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return hs, nil
}

// Publish records shop level events and ignores the rest.
func (hs *HistoryStore) Publish(_ context.Context, e events.Event) error {
	var status string
	switch e.Kind {
	case events.KindShopStarted:
		status = StatusRunning
	case events.KindShopCompleted:
		status = StatusCompleted
	case events.KindShopFailed:
		status = StatusFailed
	default:
		return nil
	}

	return hs.Update(&ShopStatus{
		Shop:       e.Shop,
		Status:     status,
		RunID:      e.RunID,
		Rows:       e.Rows,
		OutputPath: e.OutputPath,
		Error:      e.Error,
	})
}

func (hs *HistoryStore) Update(s *ShopStatus) error {
	if s.Shop == "" {
		return fmt.Errorf("shop is required")
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	s.UpdatedAt = time.Now()
	hs.shops[s.Shop] = s
	return hs.save()
}

func (hs *HistoryStore) Get(shop string) (*ShopStatus, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	s, ok := hs.shops[shop]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// Failed lists shops whose last attempt failed or never finished, sorted
// by name.
func (hs *HistoryStore) Failed() []string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	var shops []string
	for name, s := range hs.shops {
		if s.Status == StatusFailed || s.Status == StatusRunning {
			shops = append(shops, name)
		}
	}
	sort.Strings(shops)
	return shops
}

func (hs *HistoryStore) Stats() map[string]int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	stats := make(map[string]int)
	for _, s := range hs.shops {
		stats[s.Status]++
	}
	stats["total"] = len(hs.shops)
	return stats
}

func (hs *HistoryStore) save() error {
	data, err := json.MarshalIndent(hs.shops, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(hs.filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// write then rename so a crash never leaves a truncated file
	tmpFile := hs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, hs.filename)
}

func (hs *HistoryStore) Load() error {
	data, err := os.ReadFile(hs.filename)
	if err != nil {
		return err
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	return json.Unmarshal(data, &hs.shops)
}
