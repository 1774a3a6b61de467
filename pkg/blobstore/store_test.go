package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/config"
)

func TestRawKey(t *testing.T) {
	id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	storedAt := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("EAT", 3*3600))

	assert.Equal(t, "qc-analyzer/2026/03/07/7d444840-9dc0-11d1-b245-5ffdce74fad2.json", RawKey("qc-analyzer", id, storedAt))
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, validateKey("a/b/c.json"))
	for _, bad := range []string{"", "/abs", "a/../b", "a//b", "./a"} {
		assert.Error(t, validateKey(bad), bad)
	}
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	key := "qc-analyzer/2026/03/07/doc.json"
	data := []byte(`{"farmer_id":"WM-4521"}`)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, store.PutImmutable(ctx, key, data, ContentTypeJSON))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	// Identical rewrite is idempotent.
	require.NoError(t, store.PutImmutable(ctx, key, data, ContentTypeJSON))

	// Different content never replaces the original.
	err = store.PutImmutable(ctx, key, []byte(`{"farmer_id":"OTHER"}`), ContentTypeJSON)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	storeContract(t, store)
	assert.Equal(t, 1, store.Len())
}

func TestLocalStore(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, zap.NewNop())
	require.NoError(t, err)

	storeContract(t, store)

	info, err := os.Stat(filepath.Join(root, "qc-analyzer", "2026", "03", "07", "doc.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Join(root, "qc-analyzer", "2026", "03", "07"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be cleaned up")
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, store.PutImmutable(context.Background(), "../escape.json", []byte("{}"), ContentTypeJSON))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	assert.ErrorIs(t, store.PutImmutable(ctx, "a/b.json", []byte("{}"), ContentTypeJSON), context.Canceled)
	assert.Equal(t, 0, store.Len())
}

func TestNew(t *testing.T) {
	store, err := New(context.Background(), config.BlobStoreConfig{Mode: config.BlobModeMemory}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = New(context.Background(), config.BlobStoreConfig{Mode: config.BlobModeLocal, LocalDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	_, err = New(context.Background(), config.BlobStoreConfig{Mode: "s3"}, zap.NewNop())
	assert.Error(t, err)
}
