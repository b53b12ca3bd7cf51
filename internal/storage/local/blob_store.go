// Package local implements a local filesystem blob store.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/storage/layout"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed blob store. The base directory
// is created when missing and must be writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	baseDir, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(baseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	check, err := os.CreateTemp(baseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = check.Close()
	if err := os.Remove(check.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: baseDir}, nil
}

// BaseDir returns the absolute root of the store.
func (s *BlobStore) BaseDir() string {
	return s.baseDir
}

// SaveBytes writes content under its content-addressed path.
func (s *BlobStore) SaveBytes(ctx context.Context, content []byte, sourceURL string, typ crawler.CanonicalType) (crawler.Artifact, error) {
	return s.SaveStream(ctx, bytes.NewReader(content), sourceURL, typ, int64(len(content)))
}

// SaveStream writes r to a temporary file next to its final location,
// syncs it and renames it into place. The returned locator is the absolute
// path of the committed file. A failed write leaves nothing behind.
func (s *BlobStore) SaveStream(ctx context.Context, r io.Reader, sourceURL string, typ crawler.CanonicalType, _ int64) (crawler.Artifact, error) {
	dir := filepath.Join(append([]string{s.baseDir}, layout.Dir(sourceURL)...)...)
	if !within(s.baseDir, dir) {
		return crawler.Artifact{}, fmt.Errorf("%w: path traversal detected for %s", crawler.ErrStorageWrite, sourceURL)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: create parent directories: %v", crawler.ErrStorageWrite, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: create temp file: %v", crawler.ErrStorageWrite, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, digest, err := layout.Copy(tmp, r)
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("local save %s: %w", sourceURL, err)
	}
	if err := ctx.Err(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("local save %s: %w", sourceURL, err)
	}
	if err := tmp.Sync(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: sync %s: %v", crawler.ErrStorageWrite, tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: close %s: %v", crawler.ErrStorageWrite, tmp.Name(), err)
	}

	final := filepath.Join(dir, layout.Name(digest, typ))
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return crawler.Artifact{}, fmt.Errorf("%w: commit %s: %v", crawler.ErrStorageWrite, final, err)
	}
	committed = true

	return crawler.Artifact{
		Locator: final,
		SHA256:  digest,
		Size:    n,
	}, nil
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Close is a no-op.
func (s *BlobStore) Close() error {
	return nil
}
