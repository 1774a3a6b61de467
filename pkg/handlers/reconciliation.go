package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/services"
	"github.com/farmer-power/collection-engine/pkg/sources"
)

// SourceSummary is the public view of a registered source.
type SourceSummary struct {
	SourceType         string   `json:"source_type"`
	Mode               string   `json:"mode"`
	Schema             string   `json:"schema"`
	LinkField          string   `json:"link_field"`
	TrustLinkReference bool     `json:"trust_link_reference"`
	ExtractedFields    []string `json:"extracted_fields"`
	Ruleset            string   `json:"ruleset,omitempty"`
}

// OperationsHandler serves reconciliation status and the source registry.
type OperationsHandler struct {
	reconciler services.ReconciliationService
	registry   *sources.Registry
	logger     *zap.Logger
}

// NewOperationsHandler creates a new operations handler.
func NewOperationsHandler(reconciler services.ReconciliationService, registry *sources.Registry, logger *zap.Logger) *OperationsHandler {
	return &OperationsHandler{
		reconciler: reconciler,
		registry:   registry,
		logger:     logger,
	}
}

// RegisterRoutes registers the operations routes on the given mux.
func (h *OperationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/reconciliation", h.ReconciliationStatus)
	mux.HandleFunc("GET /api/v1/sources", h.ListSources)
}

// ReconciliationStatus handles GET /api/v1/reconciliation.
func (h *OperationsHandler) ReconciliationStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reconciler.Status(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: stats}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// ListSources handles GET /api/v1/sources. Pull URLs and headers are omitted.
func (h *OperationsHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	registered := h.registry.List()
	out := make([]SourceSummary, 0, len(registered))
	for _, src := range registered {
		out = append(out, SourceSummary{
			SourceType:         src.SourceType,
			Mode:               string(src.Mode),
			Schema:             src.Schema,
			LinkField:          src.LinkField,
			TrustLinkReference: src.TrustLinkReference,
			ExtractedFields:    src.Extraction.Fields,
			Ruleset:            src.Extraction.Ruleset,
		})
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: out}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
