package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/blobstore"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/events"
	"github.com/farmer-power/collection-engine/pkg/extraction"
	"github.com/farmer-power/collection-engine/pkg/repositories"
	"github.com/farmer-power/collection-engine/pkg/sources"
)

const testSourcesTemplate = `
schemas:
  qc-analyzer:
    type: object
    required: [farmer_id, grade, score]
    properties:
      source_type: {type: string}
      farmer_id: {type: string, min_length: 1}
      grade: {type: string, enum: [A, B, C, D]}
      score: {type: number, min: 0, max: 100}
  weather-station:
    type: object
    required: [station_id]
    properties:
      station_id: {type: string}
      region: {type: string}
      rainfall_mm: {type: number, min: 0}

sources:
  - source_type: qc-analyzer
    schema: qc-analyzer
    link_field: farmer_id
    trust_link_reference: true
    extraction:
      fields: [grade, score]
      ruleset: qc-grading
      rules:
        - field: score
          min: 0
          max: 100
  - source_type: weather-station
    mode: pull
    schema: weather-station
    link_field: region
    trust_link_reference: true
    extraction:
      engine: direct
      fields: [rainfall_mm]
      ruleset: weather
    pull:
      url: %s
      interval: 1m
      items_key: observations
`

func testIngestionConfig() config.IngestionConfig {
	return config.IngestionConfig{
		MaxPayloadBytes:   1 << 20,
		IndexRetries:      2,
		IndexRetryDelay:   time.Millisecond,
		IndexRetryMaxWait: 5 * time.Millisecond,
		DefaultPageSize:   20,
		MaxPageSize:       100,
		IdempotencyLease:  time.Minute,
	}
}

// testPipeline is the whole write and read path over in-memory stores.
type testPipeline struct {
	registry  *sources.Registry
	blobs     *blobstore.MemoryStore
	docs      *repositories.MemoryDocumentRepository
	idem      *repositories.MemoryIdempotencyRepository
	recon     *repositories.MemoryReconciliationRepository
	outbox    *repositories.MemoryOutboxRepository
	publisher *events.MemoryPublisher

	writer     DocumentWriter
	ingest     IngestionService
	retrieval  RetrievalService
	reconciler ReconciliationService
}

type pipelineOption func(*pipelineSettings)

type pipelineSettings struct {
	extractor extraction.Extractor
	pullURL   string
}

func withExtractor(ex extraction.Extractor) pipelineOption {
	return func(s *pipelineSettings) { s.extractor = ex }
}

func withPullURL(url string) pipelineOption {
	return func(s *pipelineSettings) { s.pullURL = url }
}

func newTestPipeline(t *testing.T, opts ...pipelineOption) *testPipeline {
	t.Helper()
	logger := zap.NewNop()

	settings := pipelineSettings{pullURL: "http://127.0.0.1:1/observations"}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.extractor == nil {
		settings.extractor = extraction.NewRouter(nil, extraction.NewDirectExtractor(logger), logger)
	}

	registry, err := sources.Parse([]byte(fmt.Sprintf(testSourcesTemplate, settings.pullURL)))
	require.NoError(t, err)

	p := &testPipeline{
		registry:  registry,
		blobs:     blobstore.NewMemoryStore(),
		docs:      repositories.NewMemoryDocumentRepository(),
		idem:      repositories.NewMemoryIdempotencyRepository(),
		recon:     repositories.NewMemoryReconciliationRepository(),
		outbox:    repositories.NewMemoryOutboxRepository(),
		publisher: events.NewMemoryPublisher(),
	}
	p.recon.Outbox = p.outbox

	cfg := testIngestionConfig()
	p.writer = NewDocumentWriter(p.blobs, p.docs, p.recon, p.outbox, p.publisher, cfg, logger)
	p.ingest = NewIngestionService(registry, settings.extractor, p.writer, p.docs, p.idem, cfg, logger)
	p.retrieval = NewRetrievalService(p.docs, p.blobs, cfg, logger)
	p.reconciler = NewReconciliationService(p.recon, p.outbox, p.docs, p.idem, p.blobs, p.publisher,
		config.ReconciliationConfig{Interval: time.Millisecond, BatchSize: 10}, logger)
	return p
}
