package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/farmer-power/collection-engine/pkg/database"
	"github.com/farmer-power/collection-engine/pkg/models"
)

// ReconciliationRepository queues documents whose index write failed.
type ReconciliationRepository interface {
	// Enqueue adds or re-arms an entry. Re-enqueueing resets it to pending.
	Enqueue(ctx context.Context, entry *models.ReconciliationEntry) error

	// ClaimDue leases up to limit due entries. A leased entry is invisible to
	// other callers until lease elapses, so concurrent reconcilers never
	// process the same document at once.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.ReconciliationEntry, error)

	MarkDone(ctx context.Context, id uuid.UUID) error

	// MarkFailed records an attempt and schedules the next one.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, next time.Time) error

	// Stats counts outstanding index repairs and undelivered events.
	Stats(ctx context.Context) (*models.ReconciliationStats, error)
}

type reconciliationRepository struct {
	db database.Querier
}

// NewReconciliationRepository creates a PostgreSQL-backed ReconciliationRepository.
func NewReconciliationRepository(db database.Querier) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

var _ ReconciliationRepository = (*reconciliationRepository)(nil)

func (r *reconciliationRepository) Enqueue(ctx context.Context, entry *models.ReconciliationEntry) error {
	query := `
		INSERT INTO reconciliation_queue (document_id, snapshot, status, last_error, next_attempt_at)
		VALUES ($1, $2, 'pending', $3, $4)
		ON CONFLICT (document_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			status = 'pending',
			last_error = EXCLUDED.last_error,
			next_attempt_at = EXCLUDED.next_attempt_at,
			updated_at = now()`

	next := entry.NextAttemptAt
	if next.IsZero() {
		next = time.Now()
	}
	if _, err := r.db.Exec(ctx, query, entry.DocumentID, []byte(entry.Snapshot), entry.LastError, next); err != nil {
		return fmt.Errorf("failed to enqueue reconciliation: %w", err)
	}
	return nil
}

func (r *reconciliationRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.ReconciliationEntry, error) {
	query := `
		UPDATE reconciliation_queue q
		SET next_attempt_at = now() + $2::float8 * interval '1 millisecond', updated_at = now()
		WHERE q.document_id IN (
			SELECT document_id FROM reconciliation_queue
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING q.document_id, q.snapshot, q.status, q.attempts, q.last_error,
			q.next_attempt_at, q.created_at, q.updated_at`

	rows, err := r.db.Query(ctx, query, limit, float64(lease.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to claim reconciliation entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.ReconciliationEntry
	for rows.Next() {
		var (
			e        models.ReconciliationEntry
			snapshot []byte
			status   string
		)
		if err := rows.Scan(&e.DocumentID, &snapshot, &status, &e.Attempts, &e.LastError,
			&e.NextAttemptAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation entry: %w", err)
		}
		e.Snapshot = snapshot
		e.Status = models.ReconciliationStatus(status)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation entries: %w", err)
	}
	return entries, nil
}

func (r *reconciliationRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE reconciliation_queue SET status = 'done', last_error = '', updated_at = now() WHERE document_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark reconciliation done: %w", err)
	}
	return nil
}

func (r *reconciliationRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, next time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE reconciliation_queue
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, updated_at = now()
		WHERE document_id = $1`, id, lastError, next)
	if err != nil {
		return fmt.Errorf("failed to mark reconciliation failed: %w", err)
	}
	return nil
}

func (r *reconciliationRepository) Stats(ctx context.Context) (*models.ReconciliationStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM reconciliation_queue WHERE status = 'pending'),
			(SELECT COUNT(*) FROM event_outbox),
			(SELECT MIN(created_at) FROM reconciliation_queue WHERE status = 'pending')`

	var stats models.ReconciliationStats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.PendingIndex, &stats.PendingEvents, &stats.OldestPending); err != nil {
		return nil, fmt.Errorf("failed to read reconciliation stats: %w", err)
	}
	return &stats, nil
}
