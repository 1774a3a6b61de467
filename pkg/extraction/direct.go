package extraction

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/models"
)

// DirectExtractor copies profile fields straight from the payload and checks
// them against the profile's range rules. It needs no external capability,
// so it serves deployments without a language model and sources whose
// payloads are already structured.
type DirectExtractor struct {
	logger *zap.Logger
}

// NewDirectExtractor creates a DirectExtractor.
func NewDirectExtractor(logger *zap.Logger) *DirectExtractor {
	return &DirectExtractor{logger: logger.Named("extraction-direct")}
}

// Extract implements Extractor. Confidence is the share of profile fields
// found; a profile with no fields scores 1.
func (d *DirectExtractor) Extract(ctx context.Context, req Request) *models.ExtractionResult {
	dec := json.NewDecoder(bytes.NewReader(req.Payload))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		d.logger.Warn("Payload is not a JSON object, using fallback",
			zap.String("source_type", req.SourceType),
			zap.Error(err))
		return models.FallbackExtractionResult()
	}

	fields := make(map[string]any, len(req.Profile.Fields))
	for _, name := range req.Profile.Fields {
		if val, ok := lookup(obj, name); ok {
			fields[name] = val
		}
	}

	confidence := 1.0
	if n := len(req.Profile.Fields); n > 0 {
		confidence = float64(len(fields)) / float64(n)
	}

	return finalize(fields, nil, true, confidence, req.Profile)
}

var _ Extractor = (*DirectExtractor)(nil)
