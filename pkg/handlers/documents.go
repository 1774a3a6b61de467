package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/services"
)

// DocumentsHandler serves the retrieval operations.
type DocumentsHandler struct {
	retrieval services.RetrievalService
	logger    *zap.Logger
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(retrieval services.RetrievalService, logger *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		retrieval: retrieval,
		logger:    logger,
	}
}

// RegisterRoutes registers the document routes on the given mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/v1/documents"

	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("POST "+base+"/search", h.Search)
	mux.HandleFunc("GET "+base+"/{id}", h.Get)
}

// Get handles GET /api/v1/documents/{id}. The raw payload is included
// unless include_raw=false.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDocumentID(w, r, h.logger)
	if !ok {
		return
	}
	includeRaw, err := queryBool(r, "include_raw", true)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	doc, err := h.retrieval.GetByID(r.Context(), id, includeRaw)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: doc}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// List handles GET /api/v1/documents.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDocumentFilter(r)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	page, err := h.retrieval.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: page}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Search handles POST /api/v1/documents/search.
func (h *DocumentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.badRequest(w, "Invalid search request: "+err.Error())
		return
	}

	page, err := h.retrieval.Search(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: page}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *DocumentsHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func parseDocumentFilter(r *http.Request) (models.DocumentFilter, error) {
	q := r.URL.Query()
	filter := models.DocumentFilter{
		LinkReference: q.Get("link_reference"),
		SourceType:    q.Get("source_type"),
	}

	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.Page.Page, err = queryInt(r, "page"); err != nil {
		return filter, err
	}
	if filter.Page.PageSize, err = queryInt(r, "page_size"); err != nil {
		return filter, err
	}
	if filter.Page.Page < 0 || filter.Page.PageSize < 0 {
		return filter, fmt.Errorf("%w: page and page_size must not be negative", apperrors.ErrInvalidArgument)
	}
	return filter, nil
}
