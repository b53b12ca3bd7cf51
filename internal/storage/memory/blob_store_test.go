package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/hash/sha256"
)

func TestBlobStoreSaveBytesAndStreamAgree(t *testing.T) {
	t.Parallel()

	store := NewBlobStore("runs")
	ctx := context.Background()
	content := []byte("%PDF-1.7 fake")

	a, err := store.SaveBytes(ctx, content, "https://example.com/docs/a.pdf", crawler.TypePDF)
	require.NoError(t, err)
	b, err := store.SaveStream(ctx, strings.NewReader(string(content)), "https://example.com/docs/a.pdf", crawler.TypePDF, -1)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, sha256.Sum(content), a.SHA256)
	assert.Equal(t, int64(len(content)), a.Size)
	assert.True(t, strings.HasPrefix(a.Locator, "mem://runs/example.com/docs/"))
	assert.Equal(t, 1, store.Len())

	got, ok := store.Get(a.Locator)
	require.True(t, ok)
	assert.Equal(t, content, got)
}

func TestBlobStoreFailedStreamLeavesNothing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore("")
	src := io.MultiReader(strings.NewReader("partial"), failing{})
	_, err := store.SaveStream(context.Background(), src, "https://example.com/a.pdf", crawler.TypePDF, 100)
	require.Error(t, err)
	assert.Zero(t, store.Len())
}

type failing struct{}

func (failing) Read([]byte) (int, error) { return 0, errors.New("reset") }

func TestBlobStoreIgnoresHugeSizeHint(t *testing.T) {
	t.Parallel()

	store := NewBlobStore("")
	art, err := store.SaveStream(context.Background(), strings.NewReader("small"), "https://example.com/a.pdf", crawler.TypePDF, 1<<50)
	require.NoError(t, err)
	assert.Equal(t, int64(5), art.Size)
}
