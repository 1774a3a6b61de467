package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/models"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		extraction *models.ExtractionResult
		payload    string
		want       Result
	}{
		{
			name:       "from extraction",
			extraction: &models.ExtractionResult{Fields: map[string]any{"farmer_id": "WM-4521"}},
			payload:    `{"farmer_id":"WM-0000"}`,
			want:       Result{LinkReference: "WM-4521"},
		},
		{
			name:       "falls back to payload",
			extraction: models.FallbackExtractionResult(),
			payload:    `{"farmer_id":"WM-4521","grade":"B"}`,
			want:       Result{LinkReference: "WM-4521"},
		},
		{
			name:    "numeric link keeps integer form",
			payload: `{"farmer_id":4521}`,
			want:    Result{LinkReference: "4521"},
		},
		{
			name:       "float from extraction",
			extraction: &models.ExtractionResult{Fields: map[string]any{"farmer_id": float64(12)}},
			want:       Result{LinkReference: "12"},
		},
		{
			name:    "unregistered value is trusted",
			payload: `{"farmer_id":"NOT-A-REAL-FARMER"}`,
			want:    Result{LinkReference: "NOT-A-REAL-FARMER"},
		},
		{
			name:    "absent",
			payload: `{"grade":"B"}`,
			want:    Result{Warning: `link reference "farmer_id" missing`},
		},
		{
			name:    "blank",
			payload: `{"farmer_id":"  "}`,
			want:    Result{Warning: `link reference "farmer_id" missing`},
		},
		{
			name:    "object value",
			payload: `{"farmer_id":{"id":"x"}}`,
			want:    Result{Warning: `link reference "farmer_id" missing`},
		},
		{
			name:    "unparseable payload",
			payload: `not json`,
			want:    Result{Warning: `link reference "farmer_id" missing`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve("farmer_id", tt.extraction, []byte(tt.payload)))
		})
	}
}

func TestApply(t *testing.T) {
	doc := &models.Document{RawPayload: []byte(`{"grade":"B"}`), ValidationWarnings: []string{"extraction unavailable"}}
	advisory := Apply(doc, models.SourceConfig{LinkField: "farmer_id"}, models.FallbackExtractionResult())

	assert.Equal(t, "", doc.LinkReference)
	assert.Equal(t, []string{"extraction unavailable", `link reference "farmer_id" missing`}, doc.ValidationWarnings)
	if assert.NotNil(t, advisory) {
		assert.Equal(t, apperrors.KindLinkageMissing, advisory.Kind)
		assert.Equal(t, `link reference "farmer_id" missing`, advisory.Message)
	}
}

func TestApply_Resolved(t *testing.T) {
	doc := &models.Document{RawPayload: []byte(`{"farmer_id":"WM-4521"}`)}
	advisory := Apply(doc, models.SourceConfig{LinkField: "farmer_id"}, nil)

	assert.Nil(t, advisory)
	assert.Equal(t, "WM-4521", doc.LinkReference)
	assert.Empty(t, doc.ValidationWarnings)
}
