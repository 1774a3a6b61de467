package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestParseDocumentID(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name      string
		pathValue string
		wantOK    bool
	}{
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", true},
		{"invalid UUID", "not-a-uuid", false},
		{"empty UUID", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.SetPathValue("id", tt.pathValue)
			rec := httptest.NewRecorder()

			id, ok := ParseDocumentID(rec, req, logger)

			if ok != tt.wantOK {
				t.Fatalf("ParseDocumentID() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok {
				if id.String() != tt.pathValue {
					t.Errorf("id = %s, want %s", id, tt.pathValue)
				}
				return
			}

			if id != uuid.Nil {
				t.Errorf("expected uuid.Nil, got %s", id)
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			var body ApiResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Error != "invalid_document_id" {
				t.Errorf("error = %q, want invalid_document_id", body.Error)
			}
		})
	}
}

func TestQueryTime(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?a=2026-03-01T10:00:00Z&b=2026-03-01&c=March", nil)

	a, err := queryTime(req, "a")
	if err != nil || !a.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("a = %v, %v", a, err)
	}
	b, err := queryTime(req, "b")
	if err != nil || !b.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("b = %v, %v", b, err)
	}
	if _, err := queryTime(req, "c"); err == nil {
		t.Error("expected error for unparseable date")
	}
	missing, err := queryTime(req, "d")
	if err != nil || missing != nil {
		t.Errorf("missing = %v, %v", missing, err)
	}
}

func TestQueryIntAndBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?page=3&size=x&raw=false", nil)

	if n, err := queryInt(req, "page"); err != nil || n != 3 {
		t.Errorf("page = %d, %v", n, err)
	}
	if _, err := queryInt(req, "size"); err == nil {
		t.Error("expected error for non-integer")
	}
	if n, err := queryInt(req, "absent"); err != nil || n != 0 {
		t.Errorf("absent = %d, %v", n, err)
	}
	if b, err := queryBool(req, "raw", true); err != nil || b {
		t.Errorf("raw = %v, %v", b, err)
	}
	if b, err := queryBool(req, "absent", true); err != nil || !b {
		t.Errorf("absent bool = %v, %v", b, err)
	}
}
