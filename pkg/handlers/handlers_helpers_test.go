package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/auth"
	"github.com/farmer-power/collection-engine/pkg/blobstore"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/events"
	"github.com/farmer-power/collection-engine/pkg/extraction"
	"github.com/farmer-power/collection-engine/pkg/repositories"
	"github.com/farmer-power/collection-engine/pkg/services"
	"github.com/farmer-power/collection-engine/pkg/sources"
)

const testSources = `
schemas:
  qc-analyzer:
    type: object
    required: [farmer_id, grade, score]
    properties:
      source_type: {type: string}
      farmer_id: {type: string, min_length: 1}
      grade: {type: string, enum: [A, B, C, D]}
      score: {type: number, min: 0, max: 100}
  field-note:
    type: object
    properties:
      farmer_id: {type: string}
      note: {type: string}
sources:
  - source_type: qc-analyzer
    link_field: farmer_id
    trust_link_reference: true
    extraction:
      fields: [grade, score]
      ruleset: qc-grading
  - source_type: field-note
    link_field: farmer_id
    trust_link_reference: true
    extraction:
      fields: [note]
`

const qcPayload = `{"source_type":"qc-analyzer","farmer_id":"WM-4521","grade":"B","score":78}`

// testServer is the HTTP API over in-memory stores.
type testServer struct {
	mux       *http.ServeMux
	blobs     *blobstore.MemoryStore
	docs      *repositories.MemoryDocumentRepository
	recon     *repositories.MemoryReconciliationRepository
	publisher *events.MemoryPublisher
}

func newTestServer(t *testing.T, authMiddleware *auth.Middleware) *testServer {
	t.Helper()
	logger := zap.NewNop()

	registry, err := sources.Parse([]byte(testSources))
	require.NoError(t, err)

	cfg := config.IngestionConfig{
		MaxPayloadBytes:   4096,
		IndexRetries:      1,
		IndexRetryDelay:   time.Millisecond,
		IndexRetryMaxWait: time.Millisecond,
		DefaultPageSize:   20,
		MaxPageSize:       100,
	}

	s := &testServer{
		mux:       http.NewServeMux(),
		blobs:     blobstore.NewMemoryStore(),
		docs:      repositories.NewMemoryDocumentRepository(),
		publisher: events.NewMemoryPublisher(),
	}
	recon := repositories.NewMemoryReconciliationRepository()
	outbox := repositories.NewMemoryOutboxRepository()
	recon.Outbox = outbox
	s.recon = recon
	idem := repositories.NewMemoryIdempotencyRepository()

	writer := services.NewDocumentWriter(s.blobs, s.docs, recon, outbox, s.publisher, cfg, logger)
	extractor := extraction.NewRouter(nil, extraction.NewDirectExtractor(logger), logger)
	ingest := services.NewIngestionService(registry, extractor, writer, s.docs, idem, cfg, logger)
	retrieval := services.NewRetrievalService(s.docs, s.blobs, cfg, logger)
	reconciler := services.NewReconciliationService(recon, outbox, s.docs, idem, s.blobs, s.publisher,
		config.ReconciliationConfig{Interval: time.Millisecond, BatchSize: 10}, logger)

	if authMiddleware == nil {
		authMiddleware = auth.NewMiddleware(nil, logger)
	}
	NewIngestHandler(ingest, cfg, logger).RegisterRoutes(s.mux, authMiddleware)
	NewDocumentsHandler(retrieval, logger).RegisterRoutes(s.mux)
	NewOperationsHandler(reconciler, registry, logger).RegisterRoutes(s.mux)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body string, headers ...string) (*httptest.ResponseRecorder, ApiResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	var resp ApiResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	}
	return rec, resp
}

// decodeData re-decodes ApiResponse.Data into out.
func decodeData(t *testing.T, resp ApiResponse, out any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}
