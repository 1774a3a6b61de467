package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/models"
)

// RedisStreamPublisher appends events to a Redis stream, trimmed
// approximately to maxLen entries.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisStreamPublisher creates a publisher writing to stream.
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisStreamPublisher {
	return &RedisStreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.Named("events-redis"),
	}
}

// Publish implements Publisher.
func (p *RedisStreamPublisher) Publish(ctx context.Context, ev models.DocumentStoredEvent) error {
	id, err := p.client.XAdd(ctx, streamArgs(p.stream, p.maxLen, ev)).Result()
	if err != nil {
		return fmt.Errorf("redis XADD %s: %w", p.stream, err)
	}
	p.logger.Debug("Published document stored event",
		zap.String("stream_id", id),
		zap.String("document_id", ev.DocumentID.String()))
	return nil
}

func streamArgs(stream string, maxLen int64, ev models.DocumentStoredEvent) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":       ev.EventID.String(),
			"document_id":    ev.DocumentID.String(),
			"source_type":    ev.SourceType,
			"link_reference": ev.LinkReference,
			"stored_at":      ev.StoredAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

var _ Publisher = (*RedisStreamPublisher)(nil)
