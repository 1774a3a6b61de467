// Package events delivers "document stored" notifications to downstream
// consumers. Delivery is at-least-once: consumers dedupe on document_id.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/models"
)

// Publisher emits DocumentStoredEvents.
type Publisher interface {
	Publish(ctx context.Context, ev models.DocumentStoredEvent) error
}

// New builds the publisher selected by cfg.Mode. A redis client is required
// for redis mode.
func New(cfg config.EventsConfig, client *redis.Client, logger *zap.Logger) (Publisher, error) {
	switch cfg.Mode {
	case config.EventsModeRedis:
		if client == nil {
			return nil, fmt.Errorf("events mode %q requires a redis client", cfg.Mode)
		}
		return NewRedisStreamPublisher(client, cfg.Stream, cfg.MaxLen, logger), nil
	case config.EventsModeLog, "":
		return NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown events mode %q", cfg.Mode)
	}
}

// LogPublisher writes events to the log only.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, ev models.DocumentStoredEvent) error {
	p.logger.Info("Document stored",
		zap.String("event_id", ev.EventID.String()),
		zap.String("document_id", ev.DocumentID.String()),
		zap.String("source_type", ev.SourceType),
		zap.String("link_reference", ev.LinkReference),
		zap.Time("stored_at", ev.StoredAt))
	return nil
}

// MemoryPublisher records events for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []models.DocumentStoredEvent

	// Err, when set, is returned by Publish and nothing is recorded.
	Err error
}

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(ctx context.Context, ev models.DocumentStoredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, ev)
	return nil
}

// SetErr changes the failure mode under the lock.
func (p *MemoryPublisher) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []models.DocumentStoredEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.DocumentStoredEvent(nil), p.events...)
}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*MemoryPublisher)(nil)
)
