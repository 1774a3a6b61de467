// Package models contains domain types for the collection engine.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IndexStatus records whether a document's index record has been written.
type IndexStatus string

const (
	IndexStatusIndexed IndexStatus = "indexed"
	IndexStatusPending IndexStatus = "pending_index"
)

// Document is the unit of ingestion. RawPayload is write-once; every other
// field is derived and may be recomputed from it.
type Document struct {
	DocumentID         uuid.UUID       `json:"document_id"`
	SourceType         string          `json:"source_type"`
	RawPayload         json.RawMessage `json:"raw_payload,omitempty"`
	ExtractedFields    map[string]any  `json:"extracted_fields"`
	LinkReference      string          `json:"link_reference"`
	ValidationWarnings []string        `json:"validation_warnings"`
	ValidationPassed   bool            `json:"validation_passed"`
	Confidence         float64         `json:"confidence"`
	StoredAt           time.Time       `json:"stored_at"`

	// Storage bookkeeping
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Channel        Channel     `json:"channel"`
	IndexStatus    IndexStatus `json:"index_status"`
	RawObjectKey   string      `json:"raw_object_key"`
	RawSHA256      string      `json:"raw_sha256"`
	ContentType    string      `json:"content_type"`
}

// IndexRecord returns a copy of the document without its raw payload, which
// is what the queryable store holds.
func (d *Document) IndexRecord() *Document {
	rec := *d
	rec.RawPayload = nil
	return &rec
}

// AddWarning appends a non-fatal validation warning.
func (d *Document) AddWarning(msg string) {
	d.ValidationWarnings = append(d.ValidationWarnings, msg)
}

// DocumentStoredEvent is emitted once a document is fully stored and indexed.
// Delivery is at-least-once; consumers dedupe on DocumentID.
type DocumentStoredEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	SourceType    string    `json:"source_type"`
	LinkReference string    `json:"link_reference"`
	StoredAt      time.Time `json:"stored_at"`
}

// NewDocumentStoredEvent builds the event for a stored document.
func NewDocumentStoredEvent(d *Document) DocumentStoredEvent {
	return DocumentStoredEvent{
		EventID:       uuid.New(),
		DocumentID:    d.DocumentID,
		SourceType:    d.SourceType,
		LinkReference: d.LinkReference,
		StoredAt:      d.StoredAt,
	}
}
