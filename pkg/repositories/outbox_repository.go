package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/farmer-power/collection-engine/pkg/database"
	"github.com/farmer-power/collection-engine/pkg/models"
)

// OutboxRepository holds "document stored" events awaiting redelivery.
type OutboxRepository interface {
	Add(ctx context.Context, ev *models.OutboxEvent) error

	// ClaimDue leases up to limit due events; see ReconciliationRepository.ClaimDue.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.OutboxEvent, error)

	// Delete removes a delivered event.
	Delete(ctx context.Context, eventID uuid.UUID) error

	MarkFailed(ctx context.Context, eventID uuid.UUID, lastError string, next time.Time) error
}

type outboxRepository struct {
	db database.Querier
}

// NewOutboxRepository creates a PostgreSQL-backed OutboxRepository.
func NewOutboxRepository(db database.Querier) OutboxRepository {
	return &outboxRepository{db: db}
}

var _ OutboxRepository = (*outboxRepository)(nil)

func (r *outboxRepository) Add(ctx context.Context, ev *models.OutboxEvent) error {
	next := ev.NextAttemptAt
	if next.IsZero() {
		next = time.Now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_outbox (event_id, document_id, payload, next_attempt_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.DocumentID, []byte(ev.Payload), next)
	if err != nil {
		return fmt.Errorf("failed to add outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	query := `
		UPDATE event_outbox o
		SET next_attempt_at = now() + $2::float8 * interval '1 millisecond'
		WHERE o.event_id IN (
			SELECT event_id FROM event_outbox
			WHERE next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING o.event_id, o.document_id, o.payload, o.attempts, o.next_attempt_at, o.created_at`

	rows, err := r.db.Query(ctx, query, limit, float64(lease.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		var (
			ev      models.OutboxEvent
			payload []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.DocumentID, &payload, &ev.Attempts, &ev.NextAttemptAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		ev.Payload = payload
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) Delete(ctx context.Context, eventID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM event_outbox WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to delete outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, lastError string, next time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
		WHERE event_id = $1`, eventID, lastError, next)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	return nil
}
