package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
)

// Kind is the type of a progress event.
type Kind string

const (
	KindShopStarted   Kind = "SHOP_STARTED"
	KindShopCompleted Kind = "SHOP_COMPLETED"
	KindShopFailed    Kind = "SHOP_FAILED"
	KindRunCompleted  Kind = "RUN_COMPLETED"
)

// Event is one entry of the progress feed of a run.
type Event struct {
	ID         string              `json:"event_id"`
	RunID      string              `json:"run_id,omitempty"`
	Kind       Kind                `json:"event_type"`
	Timestamp  time.Time           `json:"timestamp"`
	Shop       string              `json:"shop,omitempty"`
	Rows       int                 `json:"rows"`
	Error      string              `json:"error,omitempty"`
	OutputPath string              `json:"output_path,omitempty"`
	Preview    []models.PreviewRow `json:"preview,omitempty"`

	// RunCompleted only.
	Shops   int  `json:"shops,omitempty"`
	Failed  int  `json:"failed,omitempty"`
	Stopped bool `json:"stopped,omitempty"`
	Saved   bool `json:"saved,omitempty"`
}

// New stamps an event of kind with an ID and the current time.
func New(kind Kind) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// Terminal reports whether the event closes a shop or the run.
func (e Event) Terminal() bool {
	return e.Kind == KindShopCompleted || e.Kind == KindShopFailed || e.Kind == KindRunCompleted
}

// Sink receives progress events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Multi publishes every event to all sinks, in order. A failing sink does
// not keep the event from the others.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
