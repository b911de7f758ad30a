package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream progress events are appended to.
const DefaultStream = "stream:ranking_progress"

// RedisClient is the part of the Redis client the sink uses.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisSink appends progress events to a Redis stream so that other
// processes can follow a run.
type RedisSink struct {
	client RedisClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewRedisSink(client RedisClient, stream string, maxLen int64, logger *slog.Logger) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "redis_sink"),
	}
}

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]interface{}{
			"data":       string(data),
			"event_type": string(e.Kind),
			"event_id":   e.ID,
			"run_id":     e.RunID,
			"shop":       e.Shop,
			"timestamp":  fmt.Sprintf("%d", e.Timestamp.UnixNano()),
		},
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	s.logger.Debug("event published", "stream", s.stream, "stream_id", id,
		"event_type", e.Kind, "shop", e.Shop)
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
