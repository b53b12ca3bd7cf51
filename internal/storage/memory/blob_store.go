// Package memory stores artifacts in-memory for tests and dry runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/storage/layout"
)

// BlobStore keeps committed artifacts keyed by layout key. Uploads are
// staged in a private buffer and only become visible once complete.
type BlobStore struct {
	prefix string

	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty store whose locators are mem://prefix/key.
func NewBlobStore(prefix string) *BlobStore {
	return &BlobStore{
		prefix: prefix,
		data:   make(map[string][]byte),
	}
}

// maxPrealloc bounds the buffer reserved up front from a declared size.
const maxPrealloc = 1 << 20

// SaveBytes stores content under its content-addressed key.
func (s *BlobStore) SaveBytes(ctx context.Context, content []byte, sourceURL string, typ crawler.CanonicalType) (crawler.Artifact, error) {
	return s.SaveStream(ctx, bytes.NewReader(content), sourceURL, typ, int64(len(content)))
}

// SaveStream drains r and commits it under its content-addressed key.
func (s *BlobStore) SaveStream(ctx context.Context, r io.Reader, sourceURL string, typ crawler.CanonicalType, sizeHint int64) (crawler.Artifact, error) {
	var staged bytes.Buffer
	if sizeHint > 0 {
		staged.Grow(int(min(sizeHint, maxPrealloc)))
	}
	n, digest, err := layout.Copy(&staged, r)
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("memory save %s: %w", sourceURL, err)
	}
	if err := ctx.Err(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("memory save %s: %w", sourceURL, err)
	}
	key := layout.Join(s.prefix, layout.Key(sourceURL, digest, typ))

	s.mu.Lock()
	s.data[key] = staged.Bytes()
	s.mu.Unlock()

	return crawler.Artifact{
		Locator: "mem://" + key,
		SHA256:  digest,
		Size:    n,
	}, nil
}

// Get returns a copy of the artifact stored at locator.
func (s *BlobStore) Get(locator string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[trimScheme(locator)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Len reports how many distinct artifacts are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close is a no-op.
func (s *BlobStore) Close() error {
	return nil
}

func trimScheme(locator string) string {
	const scheme = "mem://"
	if len(locator) >= len(scheme) && locator[:len(scheme)] == scheme {
		return locator[len(scheme):]
	}
	return locator
}
