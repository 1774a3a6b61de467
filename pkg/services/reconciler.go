package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/blobstore"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/events"
	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/repositories"
	"github.com/farmer-power/collection-engine/pkg/retry"
)

const (
	defaultReconcileInterval = 30 * time.Second
	defaultReconcileBatch    = 50
	minReconcileLease        = time.Minute
)

var errRawMissing = errors.New("raw payload not found in blob store")

// ReconcileReport counts the work done by one reconciliation pass.
type ReconcileReport struct {
	Reindexed       int `json:"reindexed"`
	ReindexFailed   int `json:"reindex_failed"`
	EventsDelivered int `json:"events_delivered"`
	EventsFailed    int `json:"events_failed"`
}

// ReconciliationService repairs documents whose index write failed after the
// raw payload was stored, and redelivers parked events.
type ReconciliationService interface {
	// RunOnce processes one batch of due index repairs and outbox events.
	RunOnce(ctx context.Context) (*ReconcileReport, error)

	// RunScheduler starts a background loop that calls RunOnce immediately and
	// then every interval. Cancel the context to stop it.
	RunScheduler(ctx context.Context)

	// Status reports outstanding work.
	Status(ctx context.Context) (*models.ReconciliationStats, error)
}

type reconciliationService struct {
	recon     repositories.ReconciliationRepository
	outbox    repositories.OutboxRepository
	docs      repositories.DocumentRepository
	idem      repositories.IdempotencyRepository
	blobs     blobstore.Store
	publisher events.Publisher
	interval  time.Duration
	batch     int
	lease     time.Duration
	backoff   *retry.Config
	logger    *zap.Logger
}

// NewReconciliationService creates the reconciler.
func NewReconciliationService(
	recon repositories.ReconciliationRepository,
	outbox repositories.OutboxRepository,
	docs repositories.DocumentRepository,
	idem repositories.IdempotencyRepository,
	blobs blobstore.Store,
	publisher events.Publisher,
	cfg config.ReconciliationConfig,
	logger *zap.Logger,
) ReconciliationService {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	lease := 2 * interval
	if lease < minReconcileLease {
		lease = minReconcileLease
	}
	return &reconciliationService{
		recon:     recon,
		outbox:    outbox,
		docs:      docs,
		idem:      idem,
		blobs:     blobs,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		lease:     lease,
		backoff: &retry.Config{
			InitialDelay: interval,
			MaxDelay:     30 * interval,
			Multiplier:   2.0,
		},
		logger: logger.Named("reconciler"),
	}
}

var _ ReconciliationService = (*reconciliationService)(nil)

func (s *reconciliationService) RunScheduler(ctx context.Context) {
	go func() {
		s.logger.Info("Reconciler started",
			zap.Duration("interval", s.interval),
			zap.Int("batch_size", s.batch))

		s.runLogged(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Reconciler stopped")
				return
			case <-ticker.C:
				s.runLogged(ctx)
			}
		}
	}()
}

func (s *reconciliationService) runLogged(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Reconciliation pass failed", zap.Error(err))
		}
		return
	}
	if *report != (ReconcileReport{}) {
		s.logger.Info("Reconciliation pass completed",
			zap.Int("reindexed", report.Reindexed),
			zap.Int("reindex_failed", report.ReindexFailed),
			zap.Int("events_delivered", report.EventsDelivered),
			zap.Int("events_failed", report.EventsFailed))
	}
}

func (s *reconciliationService) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	entries, err := s.recon.ClaimDue(ctx, s.batch, s.lease)
	if err != nil {
		return report, fmt.Errorf("failed to claim reconciliation entries: %w", err)
	}
	for _, entry := range entries {
		if err := s.reindex(ctx, entry); err != nil {
			report.ReindexFailed++
			next := time.Now().Add(retry.Backoff(s.backoff, entry.Attempts+1))
			s.logger.Warn("Reindex failed",
				zap.String("document_id", entry.DocumentID.String()),
				zap.Int("attempts", entry.Attempts+1),
				zap.Time("next_attempt_at", next),
				zap.Error(err))
			if mErr := s.recon.MarkFailed(ctx, entry.DocumentID, err.Error(), next); mErr != nil {
				return report, fmt.Errorf("failed to record reindex failure: %w", mErr)
			}
			continue
		}
		report.Reindexed++
	}

	parked, err := s.outbox.ClaimDue(ctx, s.batch, s.lease)
	if err != nil {
		return report, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	for _, ev := range parked {
		if err := s.redeliver(ctx, ev); err != nil {
			report.EventsFailed++
			next := time.Now().Add(retry.Backoff(s.backoff, ev.Attempts+1))
			s.logger.Warn("Event redelivery failed",
				zap.String("event_id", ev.EventID.String()),
				zap.String("document_id", ev.DocumentID.String()),
				zap.Error(err))
			if mErr := s.outbox.MarkFailed(ctx, ev.EventID, err.Error(), next); mErr != nil {
				return report, fmt.Errorf("failed to record redelivery failure: %w", mErr)
			}
			continue
		}
		report.EventsDelivered++
	}

	return report, nil
}

// reindex replays the snapshot into the index store. The raw object is
// checked first and never written again.
func (s *reconciliationService) reindex(ctx context.Context, entry *models.ReconciliationEntry) error {
	var doc models.Document
	if err := json.Unmarshal(entry.Snapshot, &doc); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	exists, err := s.blobs.Exists(ctx, doc.RawObjectKey)
	if err != nil {
		return fmt.Errorf("failed to check raw payload: %w", err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", doc.RawObjectKey, errRawMissing)
	}

	if err := s.docs.Upsert(ctx, &doc); err != nil {
		return err
	}
	doc.IndexStatus = models.IndexStatusIndexed

	if err := s.recon.MarkDone(ctx, doc.DocumentID); err != nil {
		// The upsert is idempotent; the entry will simply be replayed.
		s.logger.Error("Failed to mark reconciliation entry done",
			zap.String("document_id", doc.DocumentID.String()),
			zap.Error(err))
	}
	if doc.IdempotencyKey != "" {
		if err := s.idem.Complete(ctx, doc.SourceType, doc.IdempotencyKey, models.IndexStatusIndexed); err != nil {
			s.logger.Warn("Failed to update idempotency status",
				zap.String("document_id", doc.DocumentID.String()),
				zap.Error(err))
		}
	}

	s.logger.Info("Document reindexed",
		zap.String("document_id", doc.DocumentID.String()),
		zap.String("source_type", doc.SourceType),
		zap.Int("attempts", entry.Attempts+1))

	publishStored(ctx, s.publisher, s.outbox, &doc, s.logger)
	return nil
}

func (s *reconciliationService) redeliver(ctx context.Context, ev *models.OutboxEvent) error {
	var stored models.DocumentStoredEvent
	if err := json.Unmarshal(ev.Payload, &stored); err != nil {
		return fmt.Errorf("failed to decode outbox event: %w", err)
	}
	if err := s.publisher.Publish(ctx, stored); err != nil {
		return err
	}
	if err := s.outbox.Delete(ctx, ev.EventID); err != nil {
		// Delivered but still parked: consumers dedupe on document_id.
		s.logger.Warn("Failed to delete delivered outbox event",
			zap.String("event_id", ev.EventID.String()),
			zap.Error(err))
	}
	return nil
}

func (s *reconciliationService) Status(ctx context.Context) (*models.ReconciliationStats, error) {
	stats, err := s.recon.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read reconciliation stats: %w", err)
	}
	return stats, nil
}
