package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/blobstore"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/events"
	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/repositories"
	"github.com/farmer-power/collection-engine/pkg/retry"
)

// DocumentWriter persists a finalized document to the raw store and the index.
type DocumentWriter interface {
	// Write stores the raw payload, then the index record. A raw write failure
	// is returned as an IngestError of kind storage_failure_raw and nothing is
	// stored. An index failure that survives the retries queues the document
	// for reconciliation and returns IndexStatusPending with a nil error; if
	// that enqueue fails too, an IngestError of kind storage_failure_index.
	Write(ctx context.Context, doc *models.Document) (models.IndexStatus, error)
}

type documentWriter struct {
	blobs     blobstore.Store
	docs      repositories.DocumentRepository
	recon     repositories.ReconciliationRepository
	outbox    repositories.OutboxRepository
	publisher events.Publisher
	retryCfg  *retry.Config
	logger    *zap.Logger
}

// NewDocumentWriter creates the dual-store writer.
func NewDocumentWriter(
	blobs blobstore.Store,
	docs repositories.DocumentRepository,
	recon repositories.ReconciliationRepository,
	outbox repositories.OutboxRepository,
	publisher events.Publisher,
	cfg config.IngestionConfig,
	logger *zap.Logger,
) DocumentWriter {
	w := &documentWriter{
		blobs:     blobs,
		docs:      docs,
		recon:     recon,
		outbox:    outbox,
		publisher: publisher,
		logger:    logger.Named("document-writer"),
	}
	w.retryCfg = &retry.Config{
		MaxRetries:   cfg.IndexRetries,
		InitialDelay: cfg.IndexRetryDelay,
		MaxDelay:     cfg.IndexRetryMaxWait,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			w.logger.Warn("Index write failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	}
	return w
}

var _ DocumentWriter = (*documentWriter)(nil)

func (w *documentWriter) Write(ctx context.Context, doc *models.Document) (models.IndexStatus, error) {
	if doc.DocumentID == uuid.Nil {
		return "", fmt.Errorf("%w: document has no id", apperrors.ErrInvalidArgument)
	}
	if len(doc.RawPayload) == 0 {
		return "", fmt.Errorf("%w: document has no raw payload", apperrors.ErrInvalidArgument)
	}
	if doc.StoredAt.IsZero() {
		doc.StoredAt = time.Now().UTC()
	}
	if doc.ContentType == "" {
		doc.ContentType = blobstore.ContentTypeJSON
	}
	doc.StoredAt = doc.StoredAt.UTC()
	doc.RawObjectKey = blobstore.RawKey(doc.SourceType, doc.DocumentID, doc.StoredAt)
	doc.RawSHA256 = blobstore.Checksum(doc.RawPayload)

	if err := w.blobs.PutImmutable(ctx, doc.RawObjectKey, doc.RawPayload, doc.ContentType); err != nil {
		w.logger.Error("Raw payload write failed",
			zap.String("document_id", doc.DocumentID.String()),
			zap.String("object_key", doc.RawObjectKey),
			zap.Error(err))
		return "", apperrors.NewIngestError(apperrors.KindStorageFailureRaw, "write raw payload", err)
	}

	// The raw object exists now; from here the caller going away must not
	// strand it without an index record or a reconciliation entry.
	detached := context.WithoutCancel(ctx)

	err := retry.Do(detached, w.retryCfg, func() error {
		return w.docs.Upsert(detached, doc)
	})
	if err != nil {
		return w.queueReconciliation(detached, doc, err)
	}

	doc.IndexStatus = models.IndexStatusIndexed
	publishStored(detached, w.publisher, w.outbox, doc, w.logger)
	return models.IndexStatusIndexed, nil
}

func (w *documentWriter) queueReconciliation(ctx context.Context, doc *models.Document, indexErr error) (models.IndexStatus, error) {
	doc.IndexStatus = models.IndexStatusPending
	snapshot, err := json.Marshal(doc.IndexRecord())
	if err != nil {
		return "", fmt.Errorf("failed to marshal index snapshot: %w", err)
	}

	entry := &models.ReconciliationEntry{
		DocumentID:    doc.DocumentID,
		Snapshot:      snapshot,
		LastError:     indexErr.Error(),
		NextAttemptAt: time.Now(),
	}
	if err := w.recon.Enqueue(ctx, entry); err != nil {
		// Both stores after the raw one are unreachable. The raw object is
		// the only trace; log enough to rebuild the index record by hand.
		w.logger.Error("Failed to queue document for reconciliation",
			zap.String("document_id", doc.DocumentID.String()),
			zap.String("object_key", doc.RawObjectKey),
			zap.NamedError("index_error", indexErr),
			zap.Error(err))
		return "", apperrors.NewIngestError(apperrors.KindStorageFailureIndex,
			"index write and reconciliation enqueue failed", errors.Join(indexErr, err))
	}

	w.logger.Warn("Document stored but not indexed, queued for reconciliation",
		zap.String("document_id", doc.DocumentID.String()),
		zap.String("source_type", doc.SourceType),
		zap.Error(indexErr))
	return models.IndexStatusPending, nil
}

// publishStored emits the "document stored" event. A failed publish is parked
// in the outbox for the reconciler to redeliver.
func publishStored(ctx context.Context, pub events.Publisher, outbox repositories.OutboxRepository, doc *models.Document, logger *zap.Logger) {
	ev := models.NewDocumentStoredEvent(doc)
	err := pub.Publish(ctx, ev)
	if err == nil {
		return
	}

	logger.Warn("Event publish failed, parking in outbox",
		zap.String("document_id", doc.DocumentID.String()),
		zap.Error(err))

	payload, mErr := json.Marshal(ev)
	if mErr != nil {
		logger.Error("Failed to marshal stored event", zap.Error(mErr))
		return
	}
	if aErr := outbox.Add(ctx, &models.OutboxEvent{
		EventID:       ev.EventID,
		DocumentID:    ev.DocumentID,
		Payload:       payload,
		NextAttemptAt: time.Now(),
	}); aErr != nil {
		logger.Error("Failed to park event in outbox, event lost",
			zap.String("document_id", doc.DocumentID.String()),
			zap.String("event_id", ev.EventID.String()),
			zap.Error(aErr))
	}
}
