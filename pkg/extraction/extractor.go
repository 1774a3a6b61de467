// Package extraction turns a schema-valid payload into extracted fields,
// semantic warnings, a pass/fail flag and a confidence score. Extraction is
// advisory: every failure degrades to a defined fallback result and never
// stops a document from being stored.
package extraction

import (
	"context"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/models"
)

// Request is one extraction call.
type Request struct {
	SourceType string
	Payload    []byte
	Profile    models.ExtractionProfile

	// RequestID correlates provider-side logs with ours. Optional.
	RequestID string
}

// Extractor never returns an error: failures are expressed through
// models.FallbackExtractionResult.
type Extractor interface {
	Extract(ctx context.Context, req Request) *models.ExtractionResult
}

// Router selects an extractor per source from the profile's engine tag and
// falls back to a default for untagged profiles.
type Router struct {
	defaultEngine string
	engines       map[string]Extractor
	logger        *zap.Logger
}

// NewRouter builds a router. A nil agent means no language model is
// configured: untagged profiles use the direct extractor, and profiles
// pinned to the agent get the fallback result.
func NewRouter(agent Extractor, direct Extractor, logger *zap.Logger) *Router {
	r := &Router{
		engines: map[string]Extractor{models.ExtractionEngineDirect: direct},
		logger:  logger.Named("extraction"),
	}
	r.defaultEngine = models.ExtractionEngineDirect
	if agent != nil {
		r.engines[models.ExtractionEngineAgent] = agent
		r.defaultEngine = models.ExtractionEngineAgent
	}
	return r
}

// DefaultEngine reports which engine untagged profiles use.
func (r *Router) DefaultEngine() string {
	return r.defaultEngine
}

// Extract implements Extractor.
func (r *Router) Extract(ctx context.Context, req Request) *models.ExtractionResult {
	engine := req.Profile.Engine
	if engine == "" {
		engine = r.defaultEngine
	}
	ex, ok := r.engines[engine]
	if !ok {
		r.logger.Warn("Extraction engine not configured, using fallback",
			zap.String("source_type", req.SourceType),
			zap.String("engine", engine))
		return models.FallbackExtractionResult()
	}
	return ex.Extract(ctx, req)
}

var _ Extractor = (*Router)(nil)
