package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/services"
)

func ingestN(t *testing.T, s *testServer, farmer string, n int) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	for i := 0; i < n; i++ {
		body := fmt.Sprintf(`{"farmer_id":%q,"grade":"A","score":%d}`, farmer, 50+i)
		rec, resp := s.do(t, http.MethodPost, "/api/v1/ingest/qc-analyzer", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var result services.IngestResult
		decodeData(t, resp, &result)
		ids = append(ids, result.DocumentID)
	}
	return ids
}

func TestDocuments_GetWithoutRaw(t *testing.T) {
	s := newTestServer(t, nil)
	ids := ingestN(t, s, "WM-1", 1)

	rec, resp := s.do(t, http.MethodGet, "/api/v1/documents/"+ids[0].String()+"?include_raw=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	decodeData(t, resp, &doc)
	assert.NotContains(t, doc, "raw_payload")
	assert.NotEmpty(t, doc["raw_sha256"])
}

func TestDocuments_GetErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := s.do(t, http.MethodGet, "/api/v1/documents/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_document_id", resp.Error)

	rec, resp = s.do(t, http.MethodGet, "/api/v1/documents/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/documents/"+uuid.NewString()+"?include_raw=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocuments_ListByLinkReference(t *testing.T) {
	s := newTestServer(t, nil)
	ingestN(t, s, "WM-1", 3)
	ingestN(t, s, "WM-2", 2)

	rec, resp := s.do(t, http.MethodGet, "/api/v1/documents?link_reference=WM-2&page_size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page models.DocumentPage
	decodeData(t, resp, &page)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.PageSize)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "WM-2", page.Documents[0].LinkReference)
	assert.Nil(t, page.Documents[0].RawPayload)
}

func TestDocuments_ListBadQuery(t *testing.T) {
	s := newTestServer(t, nil)

	for _, q := range []string{"page=abc", "page_size=-1", "from=yesterday", "from=2026-02-01&to=2026-01-01"} {
		rec, resp := s.do(t, http.MethodGet, "/api/v1/documents?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "invalid_request", resp.Error, q)
	}
}

func TestDocuments_Search(t *testing.T) {
	s := newTestServer(t, nil)
	ingestN(t, s, "WM-1", 2)
	ingestN(t, s, "WM-7", 1)

	rec, resp := s.do(t, http.MethodPost, "/api/v1/documents/search", `{"query":"WM-7","source_type":"qc-analyzer","fields":{"grade":"A"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page models.SearchPage
	decodeData(t, resp, &page)
	require.Len(t, page.Hits, 1)
	assert.Equal(t, "WM-7", page.Hits[0].Document.LinkReference)
}

func TestDocuments_SearchBadRequests(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{`{}`, `not json`, `{"query":"x","unknown":1}`, `{"query":"1' OR '1'='1"}`} {
		rec, resp := s.do(t, http.MethodPost, "/api/v1/documents/search", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "invalid_request", resp.Error, body)
	}
}

func TestOperations_ListSources(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := s.do(t, http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []SourceSummary
	decodeData(t, resp, &out)
	require.Len(t, out, 2)
	var qc *SourceSummary
	for i := range out {
		if out[i].SourceType == "qc-analyzer" {
			qc = &out[i]
		}
	}
	require.NotNil(t, qc)
	assert.Equal(t, "push", qc.Mode)
	assert.Equal(t, []string{"grade", "score"}, qc.ExtractedFields)
}
