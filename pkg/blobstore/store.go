// Package blobstore holds raw payloads. Objects are write-once: a key, once
// written, never changes.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/config"
)

// ContentTypeJSON is the content type of every raw payload the pipeline writes.
const ContentTypeJSON = "application/json"

// Store is an immutable object store.
type Store interface {
	// PutImmutable writes data under key. Writing identical bytes to an
	// existing key succeeds; different bytes fail with apperrors.ErrAlreadyExists.
	PutImmutable(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object or an error wrapping apperrors.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	Exists(ctx context.Context, key string) (bool, error)
}

// RawKey derives the object key for a document's raw payload. It depends
// only on the document, so rewriting after a retry hits the same object.
func RawKey(sourceType string, id uuid.UUID, storedAt time.Time) string {
	t := storedAt.UTC()
	return path.Join(sourceType, t.Format("2006"), t.Format("01"), t.Format("02"), id.String()+".json")
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// New builds the store selected by cfg.BlobStore.Mode.
func New(ctx context.Context, cfg config.BlobStoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Mode {
	case config.BlobModeGCS:
		return NewGCSStore(ctx, cfg.Bucket, cfg.EmulatorHost, logger)
	case config.BlobModeLocal:
		return NewLocalStore(cfg.LocalDir, logger)
	case config.BlobModeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob store mode %q", cfg.Mode)
	}
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}

// sameContent resolves a write that lost to an existing object.
func sameContent(key string, existing, data []byte) error {
	if bytes.Equal(existing, data) {
		return nil
	}
	return fmt.Errorf("object %q: %w", key, apperrors.ErrAlreadyExists)
}
