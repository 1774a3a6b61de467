//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/testhelpers"
)

func TestReconciliationRepository_Lifecycle(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.Truncate(t, "reconciliation_queue", "event_outbox")
	repo := NewReconciliationRepository(engineDB.DB)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, repo.Enqueue(ctx, &models.ReconciliationEntry{DocumentID: id, Snapshot: []byte(`{"document_id":"x"}`), LastError: "timeout"}))

	due, err := repo.ClaimDue(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].DocumentID)
	assert.JSONEq(t, `{"document_id":"x"}`, string(due[0].Snapshot))

	again, err := repo.ClaimDue(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased entry must not be claimed twice")

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingIndex)

	require.NoError(t, repo.MarkDone(ctx, id))
	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingIndex)
}

func TestIdempotencyRepository_Claim(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.Truncate(t, "idempotency_keys")
	repo := NewIdempotencyRepository(engineDB.DB)
	ctx := context.Background()
	rec := &models.IdempotencyRecord{Key: "k", SourceType: "qc-analyzer", PayloadHash: "h1", DocumentID: uuid.New()}

	_, claimed, err := repo.Claim(ctx, rec)
	require.NoError(t, err)
	assert.True(t, claimed)

	second := *rec
	second.DocumentID = uuid.New()
	existing, claimed, err := repo.Claim(ctx, &second)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, rec.DocumentID, existing.DocumentID)

	require.NoError(t, repo.Complete(ctx, "qc-analyzer", "k", models.IndexStatusPending))
	existing, _, err = repo.Claim(ctx, &second)
	require.NoError(t, err)
	assert.Equal(t, models.IndexStatusPending, existing.IndexStatus)
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.Truncate(t, "event_outbox")
	repo := NewOutboxRepository(engineDB.DB)
	ctx := context.Background()
	ev := &models.OutboxEvent{EventID: uuid.New(), DocumentID: uuid.New(), Payload: []byte(`{"a":1}`)}

	require.NoError(t, repo.Add(ctx, ev))
	due, err := repo.ClaimDue(ctx, 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, repo.MarkFailed(ctx, ev.EventID, "redis down", time.Now().Add(-time.Second)))
	due, err = repo.ClaimDue(ctx, 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)

	require.NoError(t, repo.Delete(ctx, ev.EventID))
	due, err = repo.ClaimDue(ctx, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}
