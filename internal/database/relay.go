package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrUnknownEventType = errors.New("unknown outbox event type")

// RedisClient is the part of the Redis client the relay uses.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

// Relay announces finished runs recorded in the outbox on their Redis
// stream. An event leaves the outbox only after XADD succeeded.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	streamLen int64
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen caps the announcement stream (approximate trim); zero
	// keeps every entry.
	StreamMaxLen int64
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		streamLen: config.StreamMaxLen,
	}
}

// Start drains the outbox on every tick until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to relay announcements", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain relays full batches back to back. It stops on the first short
// batch, or on a batch with failures since those wait for their retry time.
func (r *Relay) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		delivered, failed, err := r.relayBatch(ctx)
		if err != nil {
			return err
		}
		if failed > 0 || delivered < r.batchSize {
			return nil
		}
	}
	return ctx.Err()
}

func (r *Relay) relayBatch(ctx context.Context) (delivered, failed int, err error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := r.deliver(ctx, event); err != nil {
			failed++
			r.logger.Warn("announcement not delivered",
				"event_id", event.ID,
				"run_id", event.AggregateID,
				"attempt", event.RetryCount+1,
				"error", err)
			continue
		}
		delivered++
	}

	if len(events) > 0 {
		r.logger.Debug("relayed outbox batch", "delivered", delivered, "failed", failed)
	}
	return delivered, failed, nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	values, err := streamEntry(event)
	if err == nil {
		args := &redis.XAddArgs{Stream: event.TargetStream, Values: values}
		if r.streamLen > 0 {
			args.MaxLen = r.streamLen
			args.Approx = true
		}
		if _, xerr := r.redis.XAdd(ctx, args).Result(); xerr != nil {
			err = fmt.Errorf("failed to publish to redis: %w", xerr)
		}
	}
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		// the entry is already on the stream; a redelivery duplicates it
		return fmt.Errorf("published but not marked processed: %w", err)
	}

	r.logger.Info("run announced", "run_id", event.AggregateID, "stream", event.TargetStream)
	return nil
}

// streamEntry turns an outbox event into the fields of its stream entry.
func streamEntry(event *OutboxEvent) (map[string]interface{}, error) {
	switch event.EventType {
	case EventTypeRunFinished:
		var p RunFinishedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode run payload: %w", err)
		}
		if p.RunID == "" {
			p.RunID = event.AggregateID
		}
		values := p.StreamValues()
		values["outbox_id"] = event.ID.String()
		values["attempt"] = strconv.Itoa(event.RetryCount + 1)
		return values, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, event.EventType)
	}
}

// Backlog reports undelivered and parked event counts.
func (r *Relay) Backlog(ctx context.Context) (pending, deadLetter int64, err error) {
	pending, err = r.outbox.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
	if err != nil {
		return 0, 0, err
	}
	deadLetter, err = r.outbox.CountByStatus(ctx, OutboxStatusDeadLetter)
	if err != nil {
		return 0, 0, err
	}
	return pending, deadLetter, nil
}
