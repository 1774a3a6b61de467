package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
)

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		message    string
	}{
		{"bad request", http.StatusBadRequest, "invalid_request", "invalid input"},
		{"not found", http.StatusNotFound, "not_found", "resource not found"},
		{"internal error", http.StatusInternalServerError, "internal_error", "something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			if err := ErrorResponse(w, tt.statusCode, tt.errorCode, tt.message); err != nil {
				t.Fatalf("ErrorResponse returned error: %v", err)
			}

			resp := w.Result()
			defer resp.Body.Close()

			if resp.StatusCode != tt.statusCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.statusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}

			var body ApiResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body.Success {
				t.Error("success = true, want false")
			}
			if body.Error != tt.errorCode {
				t.Errorf("error = %q, want %q", body.Error, tt.errorCode)
			}
			if body.Message != tt.message {
				t.Errorf("message = %q, want %q", body.Message, tt.message)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{apperrors.NewIngestError(apperrors.KindSchemaViolation, "2 schema violation(s)", nil), http.StatusUnprocessableEntity, "schema_violation"},
		{apperrors.NewIngestError(apperrors.KindStorageFailureRaw, "write raw payload", fmt.Errorf("boom")), http.StatusServiceUnavailable, "storage_failure_raw"},
		{apperrors.NewIngestError(apperrors.KindStorageFailureIndex, "index write and reconciliation enqueue failed", fmt.Errorf("boom")), http.StatusServiceUnavailable, "storage_failure_index"},
		{fmt.Errorf("%w: %q", apperrors.ErrUnknownSource, "x"), http.StatusBadRequest, "unknown_source"},
		{fmt.Errorf("%w: page", apperrors.ErrInvalidArgument), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("%w: key reused", apperrors.ErrConflict), http.StatusConflict, "conflict"},
		{fmt.Errorf("get: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("read body: %w", &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge, "payload_too_large"},
		{fmt.Errorf("ingest cancelled before storage: %w", context.Canceled), http.StatusServiceUnavailable, "unavailable"},
		{fmt.Errorf("database exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			status, code, _ := classifyError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestClassifyError_HidesInternalDetail(t *testing.T) {
	_, _, message := classifyError(fmt.Errorf("dial tcp 10.0.0.7:5432: connection refused"))
	if message != "Internal server error" {
		t.Errorf("message = %q, want generic message", message)
	}
}
