package blobstore

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
)

const gcsOpTimeout = 2 * time.Minute

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// GCSStore writes raw payloads to a Cloud Storage bucket with a
// does-not-exist precondition, so objects cannot be overwritten.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSStore creates a client for bucket. When emulatorHost is set the
// client talks to that emulator without credentials.
func NewGCSStore(ctx context.Context, bucket, emulatorHost string, logger *zap.Logger) (*GCSStore, error) {
	opts := clientOptionsFromEnv()
	if emulatorHost != "" {
		// The storage client reads the emulator address from the environment.
		if err := os.Setenv("STORAGE_EMULATOR_HOST", emulatorHost); err != nil {
			return nil, fmt.Errorf("set emulator host: %w", err)
		}
		opts = []option.ClientOption{option.WithoutAuthentication()}
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, logger: logger.Named("blobstore-gcs")}, nil
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	if creds == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// PutImmutable implements Store.
func (s *GCSStore) PutImmutable(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(key)
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.SendCRC32C = true
	w.CRC32C = crc32.Checksum(data, castagnoli)

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return s.resolveWriteError(ctx, key, data, err)
	}
	if err := w.Close(); err != nil {
		return s.resolveWriteError(ctx, key, data, err)
	}

	s.logger.Debug("Stored raw object", zap.String("bucket", s.bucket), zap.String("key", key))
	return nil
}

// resolveWriteError turns a failed precondition into success for identical
// content, or ErrAlreadyExists otherwise.
func (s *GCSStore) resolveWriteError(ctx context.Context, key string, data []byte, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusPreconditionFailed {
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	existing, getErr := s.Get(ctx, key)
	if getErr != nil {
		return fmt.Errorf("read existing %q: %w", key, getErr)
	}
	return sameContent(key, existing, data)
}

// Get implements Store.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("object %q: %w", key, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object %q: %w", key, err)
	}
	return data, nil
}

// Exists implements Store.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat GCS object %q: %w", key, err)
	}
}

var _ Store = (*GCSStore)(nil)
