package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReconciliationStatus tracks a queued index repair.
type ReconciliationStatus string

const (
	ReconciliationPending ReconciliationStatus = "pending"
	ReconciliationDone    ReconciliationStatus = "done"
)

// ReconciliationEntry is a document whose raw payload is stored but whose
// index write failed. Snapshot holds the index record to replay.
type ReconciliationEntry struct {
	DocumentID    uuid.UUID            `json:"document_id"`
	Snapshot      json.RawMessage      `json:"-"`
	Status        ReconciliationStatus `json:"status"`
	Attempts      int                  `json:"attempts"`
	LastError     string               `json:"last_error,omitempty"`
	NextAttemptAt time.Time            `json:"next_attempt_at"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// OutboxEvent is a "document stored" event whose publish failed.
type OutboxEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	DocumentID    uuid.UUID       `json:"document_id"`
	Payload       json.RawMessage `json:"-"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReconciliationStats summarizes outstanding repair work.
type ReconciliationStats struct {
	PendingIndex  int        `json:"pending_index"`
	PendingEvents int        `json:"pending_events"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// IdempotencyRecord binds a caller-supplied key to the document it produced.
type IdempotencyRecord struct {
	Key         string      `json:"key"`
	SourceType  string      `json:"source_type"`
	PayloadHash string      `json:"payload_hash"`
	DocumentID  uuid.UUID   `json:"document_id"`
	IndexStatus IndexStatus `json:"index_status"`
	CreatedAt   time.Time   `json:"created_at"`
}
