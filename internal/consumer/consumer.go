// Package consumer turns run requests arriving on a Redis stream into
// server runs and logs the finished-run announcements the outbox relay
// publishes.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/shop-ranking-scraper/internal/api"
	"github.com/maltedev/shop-ranking-scraper/internal/database"
	"github.com/redis/go-redis/v9"
)

const EventTypeRunRequested = "RUN_REQUESTED"

type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type Submitter interface {
	SubmitRun(ctx context.Context, req api.CreateRunRequest) (string, error)
}

type Config struct {
	RequestStream string
	FinishStream  string
	Group         string
	Name          string
	Block         time.Duration
}

type Consumer struct {
	redis     StreamClient
	submitter Submitter
	cfg       Config
	logger    *slog.Logger
}

func New(client StreamClient, submitter Submitter, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	return &Consumer{
		redis:     client,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger.With("component", "consumer"),
	}
}

func (c *Consumer) streams() []string {
	var s []string
	if c.cfg.RequestStream != "" {
		s = append(s, c.cfg.RequestStream)
	}
	if c.cfg.FinishStream != "" {
		s = append(s, c.cfg.FinishStream)
	}
	return s
}

// Run reads both streams through the consumer group until ctx ends.
// Messages that fail transiently stay pending in the group.
func (c *Consumer) Run(ctx context.Context) error {
	streams := c.streams()
	if len(streams) == 0 {
		return errors.New("no streams configured")
	}

	for _, s := range streams {
		err := c.redis.XGroupCreateMkStream(ctx, s, c.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create group on %s: %w", s, err)
		}
	}

	c.logger.Info("consumer started", "streams", streams, "group", c.cfg.Group)

	args := make([]string, 0, 2*len(streams))
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  args,
			Count:    10,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				if err := c.Handle(ctx, stream.Stream, msg); err != nil {
					c.logger.Error("failed to process message", "stream", stream.Stream, "id", msg.ID, "error", err)
					continue
				}
				if err := c.redis.XAck(ctx, stream.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
					c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				}
			}
		}
	}
}

// Handle processes one message. A nil return means the message can be
// acknowledged; rejected and malformed requests are dropped that way.
func (c *Consumer) Handle(ctx context.Context, stream string, msg redis.XMessage) error {
	eventType, _ := msg.Values["event_type"].(string)

	switch eventType {
	case EventTypeRunRequested:
		return c.handleRequest(ctx, msg)
	case database.EventTypeRunFinished:
		c.handleFinished(msg)
		return nil
	default:
		c.logger.Debug("skipping event", "stream", stream, "id", msg.ID, "event_type", eventType)
		return nil
	}
}

func (c *Consumer) handleRequest(ctx context.Context, msg redis.XMessage) error {
	raw, _ := msg.Values["payload"].(string)
	var req api.CreateRunRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		c.logger.Warn("dropping malformed run request", "id", msg.ID, "error", err)
		return nil
	}

	id, err := c.submitter.SubmitRun(ctx, req)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			c.logger.Warn("run request rejected", "id", msg.ID, "shops", len(req.Shops), "error", err)
			return nil
		}
		return err
	}

	c.logger.Info("run submitted", "message_id", msg.ID, "run_id", id, "shops", len(req.Shops), "period", req.Period)
	return nil
}

func (c *Consumer) handleFinished(msg redis.XMessage) {
	p, err := database.ParseRunAnnouncement(msg.Values)
	if err != nil {
		c.logger.Warn("malformed run announcement", "id", msg.ID, "error", err)
		return
	}

	attrs := []any{
		"run_id", p.RunID,
		"status", p.Status,
		"shops_done", p.ShopsDone,
		"shops_failed", p.ShopsFailed,
		"rows", p.Rows,
		"output_path", p.OutputPath,
	}
	if !p.Saved || p.ShopsFailed > 0 {
		c.logger.Warn("run finished with problems", attrs...)
		return
	}
	c.logger.Info("run finished", attrs...)
}
