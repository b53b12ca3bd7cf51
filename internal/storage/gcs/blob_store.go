// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/id/uuid"
	"github.com/JakeFAU/doccrawler/internal/storage/layout"
)

const partialDir = ".partial"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
	ids    *uuid.Generator
	logger *zap.Logger
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		ids:    uuid.New(),
		logger: logger,
	}, nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}

// SaveBytes uploads content under its content-addressed key.
func (s *BlobStore) SaveBytes(ctx context.Context, content []byte, sourceURL string, typ crawler.CanonicalType) (crawler.Artifact, error) {
	return s.SaveStream(ctx, bytes.NewReader(content), sourceURL, typ, int64(len(content)))
}

// SaveStream uploads r to a temporary object, then copies it server-side to
// its content-addressed key and deletes the temporary object. Objects only
// appear at their final key once complete.
func (s *BlobStore) SaveStream(ctx context.Context, r io.Reader, sourceURL string, typ crawler.CanonicalType, _ int64) (crawler.Artifact, error) {
	bkt := s.client.Bucket(s.bucket)
	tmpKey := layout.Join(s.prefix, partialDir+"/"+s.ids.MustID())
	tmp := bkt.Object(tmpKey)

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := tmp.NewWriter(uploadCtx)
	writer.ContentType = crawler.MIMEType(typ)

	n, digest, err := layout.Copy(writer, r)
	if err != nil {
		cancel()
		_ = writer.Close()
		return crawler.Artifact{}, fmt.Errorf("gcs save %s: %w", sourceURL, err)
	}
	if err := writer.Close(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: upload gs://%s/%s: %v", crawler.ErrStorageWrite, s.bucket, tmpKey, err)
	}

	key := layout.Join(s.prefix, layout.Key(sourceURL, digest, typ))
	copier := bkt.Object(key).CopierFrom(tmp)
	copier.ContentType = crawler.MIMEType(typ)
	_, copyErr := copier.Run(ctx)
	if delErr := tmp.Delete(context.WithoutCancel(ctx)); delErr != nil {
		s.logger.Warn("gcs_temp_delete_failed", zap.String("object", tmpKey), zap.Error(delErr))
	}
	if copyErr != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: commit gs://%s/%s: %v", crawler.ErrStorageWrite, s.bucket, key, copyErr)
	}

	return crawler.Artifact{
		Locator: fmt.Sprintf("gs://%s/%s", s.bucket, key),
		SHA256:  digest,
		Size:    n,
	}, nil
}
