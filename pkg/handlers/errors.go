package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
)

// writeServiceError maps a service error onto an HTTP status and error code.
// Client errors carry the service message; anything else is logged and
// reported generically.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("error_code", code), zap.Error(err))
	}
	if werr := ErrorResponse(w, status, code, message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}

func classifyError(err error) (int, string, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "payload_too_large", "Payload exceeds the maximum accepted size"
	case errors.Is(err, apperrors.ErrSchemaViolation):
		return http.StatusUnprocessableEntity, string(apperrors.KindSchemaViolation), err.Error()
	case errors.Is(err, apperrors.ErrUnknownSource):
		return http.StatusBadRequest, "unknown_source", err.Error()
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found", "Document not found"
	case errors.Is(err, apperrors.ErrRawStorage):
		return http.StatusServiceUnavailable, string(apperrors.KindStorageFailureRaw), "Raw payload storage is unavailable; retry later"
	case errors.Is(err, apperrors.ErrIndexPending):
		return http.StatusServiceUnavailable, string(apperrors.KindStorageFailureIndex), "Payload stored but not indexed; retry later with the same Idempotency-Key"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "unavailable", "Request did not complete; retry later"
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}
