package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/blobstore"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/extraction"
	"github.com/farmer-power/collection-engine/pkg/linkage"
	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/repositories"
	"github.com/farmer-power/collection-engine/pkg/schema"
	"github.com/farmer-power/collection-engine/pkg/sources"
)

// MaxIdempotencyKeyLength bounds caller-supplied keys.
const MaxIdempotencyKeyLength = 255

// defaultIdempotencyLease applies when the config leaves the lease unset.
const defaultIdempotencyLease = 5 * time.Minute

// IndexDeferredMessage accompanies the storage_failure_index advisory.
const IndexDeferredMessage = "index write deferred to reconciliation"

// IngestStatus is the outcome reported to the producer.
type IngestStatus string

const (
	IngestStatusStored       IngestStatus = "stored"
	IngestStatusPendingIndex IngestStatus = "pending_index"
	IngestStatusDuplicate    IngestStatus = "duplicate"
)

// IngestRequest is one inbound payload.
type IngestRequest struct {
	SourceType     string
	Payload        []byte
	IdempotencyKey string
}

// IngestResult is returned for accepted payloads, and for schema rejections
// alongside the error so callers can report the violations.
type IngestResult struct {
	DocumentID       uuid.UUID          `json:"document_id,omitempty"`
	SourceType       string             `json:"source_type"`
	Status           IngestStatus       `json:"status,omitempty"`
	IndexStatus      models.IndexStatus `json:"index_status,omitempty"`
	LinkReference    string             `json:"link_reference,omitempty"`
	ValidationPassed bool               `json:"validation_passed"`
	Confidence       float64            `json:"confidence"`
	Advisories       []models.Advisory  `json:"advisories,omitempty"`
	Violations       []schema.Violation `json:"violations,omitempty"`
}

// HasAdvisory reports whether the result carries an advisory of kind.
func (r *IngestResult) HasAdvisory(kind apperrors.Kind) bool {
	for _, a := range r.Advisories {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// IngestionService runs payloads through validate, extract, link and store.
type IngestionService interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

type ingestionService struct {
	registry  *sources.Registry
	extractor extraction.Extractor
	writer    DocumentWriter
	docs      repositories.DocumentRepository
	idem      repositories.IdempotencyRepository
	lease     time.Duration
	logger    *zap.Logger
}

// NewIngestionService wires the pipeline phases. docs is consulted to
// recover idempotency keys whose claim never completed.
func NewIngestionService(
	registry *sources.Registry,
	extractor extraction.Extractor,
	writer DocumentWriter,
	docs repositories.DocumentRepository,
	idem repositories.IdempotencyRepository,
	cfg config.IngestionConfig,
	logger *zap.Logger,
) IngestionService {
	lease := cfg.IdempotencyLease
	if lease <= 0 {
		lease = defaultIdempotencyLease
	}
	return &ingestionService{
		registry:  registry,
		extractor: extractor,
		writer:    writer,
		docs:      docs,
		idem:      idem,
		lease:     lease,
		logger:    logger.Named("ingestion"),
	}
}

var _ IngestionService = (*ingestionService)(nil)

func (s *ingestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	src, err := s.registry.Get(req.SourceType)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > MaxIdempotencyKeyLength {
		return nil, fmt.Errorf("%w: idempotency key longer than %d bytes", apperrors.ErrInvalidArgument, MaxIdempotencyKeyLength)
	}

	// Phase 1: structure.
	validation, err := s.registry.Validator().Validate(src.Schema, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to validate payload: %w", err)
	}
	if !validation.Passed {
		s.logger.Debug("Payload rejected by schema",
			zap.String("source_type", src.SourceType),
			zap.Int("violations", len(validation.Violations)))
		return &IngestResult{SourceType: src.SourceType, Violations: validation.Violations},
			apperrors.NewIngestError(apperrors.KindSchemaViolation,
				fmt.Sprintf("%d schema violation(s)", len(validation.Violations)), nil)
	}

	docID := uuid.New()
	if key != "" {
		claimedID, dup, err := s.claim(ctx, src.SourceType, key, docID, req.Payload)
		if err != nil || dup != nil {
			return dup, err
		}
		docID = claimedID
	}

	committed := false
	defer func() {
		if key == "" || committed {
			return
		}
		if err := s.idem.Release(context.WithoutCancel(ctx), src.SourceType, key); err != nil {
			s.logger.Error("Failed to release idempotency key",
				zap.String("source_type", src.SourceType),
				zap.String("idempotency_key", key),
				zap.Error(err))
		}
	}()

	// Phase 2: extraction. Never fails; degrades to the fallback result.
	result := s.extractor.Extract(ctx, extraction.Request{
		SourceType: src.SourceType,
		Payload:    req.Payload,
		Profile:    src.Extraction,
		RequestID:  docID.String(),
	})

	prov := models.GetProvenance(ctx)
	doc := &models.Document{
		DocumentID:         docID,
		SourceType:         src.SourceType,
		RawPayload:         append([]byte(nil), req.Payload...),
		ExtractedFields:    result.Fields,
		ValidationWarnings: append([]string(nil), result.Warnings...),
		ValidationPassed:   result.ValidationPassed,
		Confidence:         result.Confidence,
		IdempotencyKey:     key,
		Channel:            prov.Channel,
		ContentType:        blobstore.ContentTypeJSON,
	}

	advisories := extractionAdvisories(result)

	// Phase 3: linkage.
	if adv := linkage.Apply(doc, src, result); adv != nil {
		advisories = append(advisories, *adv)
	}

	// A caller that gave up before storage leaves nothing behind.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest cancelled before storage: %w", err)
	}

	// Phase 4: storage.
	status, err := s.writer.Write(ctx, doc)
	if err != nil {
		// The raw object is stored under docID; keep the claim so a retry
		// after the lease resumes with the same document.
		committed = apperrors.KindOf(err) == apperrors.KindStorageFailureIndex
		return nil, err
	}
	committed = true

	if key != "" {
		if err := s.idem.Complete(context.WithoutCancel(ctx), src.SourceType, key, status); err != nil {
			// The document is stored; a stale claim only blocks retries of this key.
			s.logger.Error("Failed to complete idempotency key",
				zap.String("document_id", docID.String()),
				zap.String("idempotency_key", key),
				zap.Error(err))
		}
	}

	s.logger.Info("Document ingested",
		zap.String("document_id", docID.String()),
		zap.String("source_type", src.SourceType),
		zap.String("channel", prov.Channel.String()),
		zap.String("producer", prov.Producer),
		zap.String("index_status", string(status)),
		zap.Bool("extraction_unavailable", result.Unavailable),
		zap.Int("warnings", len(doc.ValidationWarnings)))

	out := &IngestResult{
		DocumentID:       docID,
		SourceType:       src.SourceType,
		Status:           IngestStatusStored,
		IndexStatus:      status,
		LinkReference:    doc.LinkReference,
		ValidationPassed: doc.ValidationPassed,
		Confidence:       doc.Confidence,
		Advisories:       advisories,
	}
	if status == models.IndexStatusPending {
		out.Status = IngestStatusPendingIndex
		out.Advisories = append(out.Advisories, models.Advisory{
			Kind:    apperrors.KindStorageFailureIndex,
			Message: IndexDeferredMessage,
		})
	}
	return out, nil
}

// extractionAdvisories tags the extraction warnings. Extractors that do not
// tag their own warnings get them reported as semantic warnings.
func extractionAdvisories(result *models.ExtractionResult) []models.Advisory {
	if len(result.Advisories) > 0 || len(result.Warnings) == 0 {
		return append([]models.Advisory(nil), result.Advisories...)
	}
	if result.Unavailable {
		return models.FallbackExtractionResult().Advisories
	}
	return models.SemanticAdvisories(result.Warnings)
}

// claim reserves key for docID and returns the document id the pipeline
// must use. It returns a duplicate result when the key already completed for
// the same payload.
func (s *ingestionService) claim(ctx context.Context, sourceType, key string, docID uuid.UUID, payload []byte) (uuid.UUID, *IngestResult, error) {
	hash := blobstore.Checksum(payload)
	rec, claimed, err := s.idem.Claim(ctx, &models.IdempotencyRecord{
		Key:         key,
		SourceType:  sourceType,
		PayloadHash: hash,
		DocumentID:  docID,
	})
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if claimed {
		return docID, nil, nil
	}

	switch {
	case rec.PayloadHash != hash:
		return uuid.Nil, nil, fmt.Errorf("%w: idempotency key %q was used with a different payload", apperrors.ErrConflict, key)
	case rec.IndexStatus == "":
		return s.recoverClaim(ctx, rec)
	}

	s.logger.Debug("Duplicate submission",
		zap.String("source_type", sourceType),
		zap.String("idempotency_key", key),
		zap.String("document_id", rec.DocumentID.String()))
	return uuid.Nil, duplicateResult(rec, rec.IndexStatus), nil
}

// recoverClaim resolves a claim whose earlier attempt never completed it,
// either because it is still running or because it died after storing. A
// document already in the index completes the key; otherwise a claim older
// than the lease is taken over and the pipeline reruns with its document id.
func (s *ingestionService) recoverClaim(ctx context.Context, rec *models.IdempotencyRecord) (uuid.UUID, *IngestResult, error) {
	fields := []zap.Field{
		zap.String("source_type", rec.SourceType),
		zap.String("idempotency_key", rec.Key),
		zap.String("document_id", rec.DocumentID.String()),
	}

	_, err := s.docs.Get(ctx, rec.DocumentID)
	if err == nil {
		if err := s.idem.Complete(ctx, rec.SourceType, rec.Key, models.IndexStatusIndexed); err != nil {
			s.logger.Warn("Failed to complete recovered idempotency key", append(fields, zap.Error(err))...)
		}
		s.logger.Info("Recovered idempotency key from the index", fields...)
		return uuid.Nil, duplicateResult(rec, models.IndexStatusIndexed), nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return uuid.Nil, nil, fmt.Errorf("failed to look up document for idempotency key: %w", err)
	}

	inProgress := fmt.Errorf("%w: idempotency key %q is still being processed", apperrors.ErrConflict, rec.Key)
	if time.Since(rec.CreatedAt) < s.lease {
		return uuid.Nil, nil, inProgress
	}
	won, err := s.idem.Takeover(ctx, rec.SourceType, rec.Key, time.Now().Add(-s.lease))
	if err != nil {
		return uuid.Nil, nil, err
	}
	if !won {
		return uuid.Nil, nil, inProgress
	}

	s.logger.Warn("Took over stale idempotency claim",
		append(fields, zap.Time("claimed_at", rec.CreatedAt))...)
	return rec.DocumentID, nil, nil
}

func duplicateResult(rec *models.IdempotencyRecord, status models.IndexStatus) *IngestResult {
	return &IngestResult{
		DocumentID:  rec.DocumentID,
		SourceType:  rec.SourceType,
		Status:      IngestStatusDuplicate,
		IndexStatus: status,
	}
}

// IsRejection reports whether err means the payload itself was refused, as
// opposed to a failure of the service.
func IsRejection(err error) bool {
	return errors.Is(err, apperrors.ErrSchemaViolation) ||
		errors.Is(err, apperrors.ErrUnknownSource) ||
		errors.Is(err, apperrors.ErrInvalidArgument) ||
		errors.Is(err, apperrors.ErrConflict)
}
