package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/auth"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/middleware"
	"github.com/farmer-power/collection-engine/pkg/services"
)

// IdempotencyKeyHeader carries the producer's retry key.
const IdempotencyKeyHeader = "Idempotency-Key"

// IngestEnvelope is the body of POST /api/v1/ingest when the payload does
// not name its own source.
type IngestEnvelope struct {
	SourceType     string          `json:"source_type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// IngestHandler accepts payloads from push-mode producers.
type IngestHandler struct {
	ingest     services.IngestionService
	maxPayload int64
	logger     *zap.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(ingest services.IngestionService, cfg config.IngestionConfig, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		ingest:     ingest,
		maxPayload: cfg.MaxPayloadBytes,
		logger:     logger,
	}
}

// RegisterRoutes registers the ingest routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	limit := middleware.MaxBodyBytes(h.maxPayload)
	base := "/api/v1/ingest"

	mux.Handle("POST "+base+"/{source_type}",
		limit(authMiddleware.RequireProducer("source_type")(h.IngestSource)))
	mux.Handle("POST "+base,
		limit(authMiddleware.RequireProducer("")(h.IngestEnvelope)))
}

// IngestSource handles POST /api/v1/ingest/{source_type}. The body is the
// raw payload, stored byte for byte.
func (h *IngestHandler) IngestSource(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeServiceError(w, fmt.Errorf("read body: %w", err), h.logger)
		return
	}

	h.submit(w, r, services.IngestRequest{
		SourceType:     r.PathValue("source_type"),
		Payload:        body,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	})
}

// IngestEnvelope handles POST /api/v1/ingest. The body is either an
// IngestEnvelope or a payload carrying its own top-level source_type.
func (h *IngestHandler) IngestEnvelope(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeServiceError(w, fmt.Errorf("read body: %w", err), h.logger)
		return
	}

	req, err := parseIngestBody(body)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		req.IdempotencyKey = key
	}

	// The route has no path value to authorize against, so the source grant
	// is checked once the body names it.
	if claims, ok := auth.GetClaims(r.Context()); ok && !claims.AllowsSource(req.SourceType) {
		if err := ErrorResponse(w, http.StatusForbidden, "forbidden", "Producer is not allowed to submit this source type"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.submit(w, r, req)
}

func (h *IngestHandler) submit(w http.ResponseWriter, r *http.Request, req services.IngestRequest) {
	result, err := h.ingest.Ingest(r.Context(), req)
	if err != nil {
		if errors.Is(err, apperrors.ErrSchemaViolation) && result != nil {
			response := ApiResponse{
				Success: false,
				Data:    result,
				Error:   string(apperrors.KindSchemaViolation),
				Message: "Payload does not match the schema for " + req.SourceType,
			}
			if err := WriteJSON(w, http.StatusUnprocessableEntity, response); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		writeServiceError(w, err, h.logger)
		return
	}

	status := http.StatusCreated
	switch {
	case result.Status == services.IngestStatusDuplicate:
		status = http.StatusOK
	case result.HasAdvisory(apperrors.KindStorageFailureIndex):
		status = http.StatusAccepted
	}

	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// parseIngestBody splits a POST /api/v1/ingest body into a request. A body
// with a "payload" member is an envelope; otherwise the body itself is the
// payload and must name its source_type.
func parseIngestBody(body []byte) (services.IngestRequest, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return services.IngestRequest{}, errors.New("body must be a JSON object")
	}

	if _, ok := members["payload"]; ok {
		var env IngestEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return services.IngestRequest{}, fmt.Errorf("malformed envelope: %w", err)
		}
		if env.SourceType == "" {
			return services.IngestRequest{}, errors.New("envelope is missing source_type")
		}
		payload := bytes.TrimSpace(env.Payload)
		if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
			return services.IngestRequest{}, errors.New("envelope payload is empty")
		}
		return services.IngestRequest{
			SourceType:     env.SourceType,
			Payload:        payload,
			IdempotencyKey: env.IdempotencyKey,
		}, nil
	}

	raw, ok := members["source_type"]
	if !ok {
		return services.IngestRequest{}, errors.New("body must carry source_type or be a {source_type, payload} envelope")
	}
	var sourceType string
	if err := json.Unmarshal(raw, &sourceType); err != nil || sourceType == "" {
		return services.IngestRequest{}, errors.New("source_type must be a non-empty string")
	}
	return services.IngestRequest{SourceType: sourceType, Payload: body}, nil
}
