// Package storage selects a blob store backend from a storage root URI.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gcsapi "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/storage/gcs"
	"github.com/JakeFAU/doccrawler/internal/storage/local"
	"github.com/JakeFAU/doccrawler/internal/storage/memory"
	"github.com/JakeFAU/doccrawler/internal/storage/s3"
)

// Backend is a crawler.Storage that holds resources until closed.
type Backend interface {
	crawler.Storage
	Close() error
}

// Options carries backend specific settings that cannot be expressed in the
// root URI.
type Options struct {
	Logger *zap.Logger
	// S3 supplies region, endpoint and credentials. Bucket and Prefix come
	// from the root URI.
	S3 s3.Config
	// GCS are extra client options, such as an emulator endpoint.
	GCS []option.ClientOption
}

// Open returns the backend for root. A bare path or file:// URI selects the
// local filesystem; s3, s3a and s3n select S3; gs and gcs select Google Cloud
// Storage; mem selects the in-memory store. The URI host and path give the
// bucket and key prefix.
func Open(ctx context.Context, root string, opts Options) (Backend, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scheme, bucket, prefix, err := splitRoot(root)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "", "file":
		dir := root
		if scheme == "file" {
			dir = bucket + prefix
		}
		store, err := local.New(local.Config{BaseDir: dir})
		if err != nil {
			return nil, fmt.Errorf("open local storage %q: %w", dir, err)
		}
		logger.Debug("storage_open", zap.String("backend", "local"), zap.String("dir", store.BaseDir()))
		return store, nil
	case "s3", "s3a", "s3n":
		cfg := opts.S3
		cfg.Bucket, cfg.Prefix = bucket, prefix
		client, err := s3.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open s3 storage %q: %w", root, err)
		}
		store, err := s3.New(client, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("open s3 storage %q: %w", root, err)
		}
		logger.Debug("storage_open", zap.String("backend", "s3"), zap.String("bucket", bucket), zap.String("prefix", prefix))
		return store, nil
	case "gs", "gcs":
		client, err := gcsapi.NewClient(ctx, opts.GCS...)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: bucket, Prefix: prefix}, logger)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("open gcs storage %q: %w", root, err)
		}
		logger.Debug("storage_open", zap.String("backend", "gcs"), zap.String("bucket", bucket), zap.String("prefix", prefix))
		return store, nil
	case "mem":
		return memory.NewBlobStore(strings.Trim(bucket+prefix, "/")), nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", scheme)
	}
}

// splitRoot returns the lower-cased scheme, host and path of root. A root
// without "://" is a plain local path.
func splitRoot(root string) (scheme, host, path string, err error) {
	if !strings.Contains(root, "://") {
		return "", "", root, nil
	}
	u, err := url.Parse(root)
	if err != nil {
		return "", "", "", fmt.Errorf("parse storage root %q: %w", root, err)
	}
	scheme = strings.ToLower(u.Scheme)
	switch scheme {
	case "file", "mem":
	default:
		if u.Host == "" {
			return "", "", "", fmt.Errorf("storage root %q has no bucket", root)
		}
	}
	return scheme, u.Host, u.Path, nil
}
