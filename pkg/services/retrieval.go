package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/audit"
	"github.com/farmer-power/collection-engine/pkg/blobstore"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/repositories"
	"github.com/farmer-power/collection-engine/pkg/sql"
)

// MaxSearchQueryLength bounds free-text queries.
const MaxSearchQueryLength = 512

// RetrievalService is the read side. The index is the read authority: a
// document whose index record is not written yet is reported as not found,
// even if its raw payload is already stored.
type RetrievalService interface {
	// GetByID returns the document, with its raw payload when includeRaw is set.
	GetByID(ctx context.Context, id uuid.UUID, includeRaw bool) (*models.Document, error)

	// List returns documents matching filter, newest first.
	List(ctx context.Context, filter models.DocumentFilter) (*models.DocumentPage, error)

	// Search ranks documents against a free-text query and exact filters.
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchPage, error)
}

type retrievalService struct {
	docs            repositories.DocumentRepository
	blobs           blobstore.Store
	defaultPageSize int
	maxPageSize     int
	auditor         *audit.SecurityAuditor
	logger          *zap.Logger
}

// NewRetrievalService creates the retrieval façade.
func NewRetrievalService(docs repositories.DocumentRepository, blobs blobstore.Store, cfg config.IngestionConfig, logger *zap.Logger) RetrievalService {
	return &retrievalService{
		docs:            docs,
		blobs:           blobs,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		auditor:         audit.NewSecurityAuditor(logger),
		logger:          logger.Named("retrieval"),
	}
}

var _ RetrievalService = (*retrievalService)(nil)

func (s *retrievalService) GetByID(ctx context.Context, id uuid.UUID, includeRaw bool) (*models.Document, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !includeRaw {
		return doc, nil
	}

	raw, err := s.blobs.Get(ctx, doc.RawObjectKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Error("Index record without raw payload",
				zap.String("document_id", id.String()),
				zap.String("object_key", doc.RawObjectKey))
		}
		return nil, fmt.Errorf("failed to load raw payload: %w", err)
	}
	if doc.RawSHA256 != "" && blobstore.Checksum(raw) != doc.RawSHA256 {
		return nil, fmt.Errorf("raw payload for document %s does not match its checksum", id)
	}
	doc.RawPayload = raw
	return doc, nil
}

func (s *retrievalService) List(ctx context.Context, filter models.DocumentFilter) (*models.DocumentPage, error) {
	filter.LinkReference = strings.TrimSpace(filter.LinkReference)
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", apperrors.ErrInvalidArgument)
	}
	filter.Page = filter.Page.Normalize(s.defaultPageSize, s.maxPageSize)
	return s.docs.List(ctx, filter)
}

func (s *retrievalService) Search(ctx context.Context, req models.SearchRequest) (*models.SearchPage, error) {
	req.Query = strings.TrimSpace(req.Query)
	if len(req.Query) > MaxSearchQueryLength {
		return nil, fmt.Errorf("%w: query longer than %d bytes", apperrors.ErrInvalidArgument, MaxSearchQueryLength)
	}
	if req.Query == "" && req.SourceType == "" && len(req.Fields) == 0 {
		return nil, fmt.Errorf("%w: query or at least one filter is required", apperrors.ErrInvalidArgument)
	}

	// Values are bound as parameters, but obvious injection attempts are still refused.
	params := map[string]any{"query": req.Query}
	for k, v := range req.Fields {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%w: empty field filter name", apperrors.ErrInvalidArgument)
		}
		params["fields."+k] = v
	}
	if hits := sql.CheckAllParameters(params); len(hits) > 0 {
		s.auditor.LogInjectionAttempt(ctx, audit.InjectionDetails{
			Surface:     "search",
			ParamName:   hits[0].ParamName,
			Class:       hits[0].Class,
			Fingerprint: hits[0].Fingerprint,
		})
		return nil, fmt.Errorf("%w: %s looks like an injection attempt", apperrors.ErrInvalidArgument, hits[0].ParamName)
	}

	req.Page = req.Page.Normalize(s.defaultPageSize, s.maxPageSize)
	return s.docs.Search(ctx, req)
}
