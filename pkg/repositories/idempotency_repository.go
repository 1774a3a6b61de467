package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/farmer-power/collection-engine/pkg/database"
	"github.com/farmer-power/collection-engine/pkg/models"
)

// IdempotencyRepository binds caller-supplied keys to documents.
type IdempotencyRepository interface {
	// Claim inserts rec unless (source_type, key) is already taken. It returns
	// the stored record and whether this call created it.
	Claim(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error)

	// Complete records the index status of a claimed key. An indexed key is
	// never downgraded to pending.
	Complete(ctx context.Context, sourceType, key string, status models.IndexStatus) error

	// Release drops a claim that never completed, so the key can be retried.
	Release(ctx context.Context, sourceType, key string) error

	// Takeover renews an unfinished claim made before claimedBefore, keeping
	// its document id. It reports whether this call won the claim.
	Takeover(ctx context.Context, sourceType, key string, claimedBefore time.Time) (bool, error)
}

type idempotencyRepository struct {
	db database.Querier
}

// NewIdempotencyRepository creates a PostgreSQL-backed IdempotencyRepository.
func NewIdempotencyRepository(db database.Querier) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

var _ IdempotencyRepository = (*idempotencyRepository)(nil)

func (r *idempotencyRepository) Claim(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	insert := `
		INSERT INTO idempotency_keys (source_type, key, payload_hash, document_id, index_status)
		VALUES ($1, $2, $3, $4, '')
		ON CONFLICT (source_type, key) DO NOTHING
		RETURNING created_at`

	claimed := *rec
	claimed.IndexStatus = ""
	err := r.db.QueryRow(ctx, insert, rec.SourceType, rec.Key, rec.PayloadHash, rec.DocumentID).Scan(&claimed.CreatedAt)
	if err == nil {
		return &claimed, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	query := `
		SELECT source_type, key, payload_hash, document_id, index_status, created_at
		FROM idempotency_keys
		WHERE source_type = $1 AND key = $2`

	var (
		existing models.IdempotencyRecord
		status   string
	)
	err = r.db.QueryRow(ctx, query, rec.SourceType, rec.Key).Scan(
		&existing.SourceType, &existing.Key, &existing.PayloadHash,
		&existing.DocumentID, &status, &existing.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	existing.IndexStatus = models.IndexStatus(status)
	return &existing, false, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, sourceType, key string, status models.IndexStatus) error {
	_, err := r.db.Exec(ctx,
		`UPDATE idempotency_keys SET index_status = $3
		 WHERE source_type = $1 AND key = $2 AND index_status <> 'indexed'`,
		sourceType, key, string(status))
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, sourceType, key string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE source_type = $1 AND key = $2 AND index_status = ''`,
		sourceType, key)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (r *idempotencyRepository) Takeover(ctx context.Context, sourceType, key string, claimedBefore time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE idempotency_keys SET created_at = now()
		 WHERE source_type = $1 AND key = $2 AND index_status = '' AND created_at < $3`,
		sourceType, key, claimedBefore)
	if err != nil {
		return false, fmt.Errorf("failed to take over idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
