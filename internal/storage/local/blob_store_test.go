// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/storage/local"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(store.BaseDir()))
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
			_ = os.Chmod(tempDir, 0o700)
		})

		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
	})
}

func TestSaveBytes(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	art, err := store.SaveBytes(context.Background(), []byte("hello world"),
		"https://Example.com/docs/reports/2024/q1.pdf", crawler.TypePDF)
	require.NoError(t, err)

	want := filepath.Join(store.BaseDir(), "example.com", "docs", "reports", helloDigest[:16]+".pdf")
	assert.Equal(t, want, art.Locator)
	assert.Equal(t, helloDigest, art.SHA256)
	assert.Equal(t, int64(11), art.Size)

	// #nosec G304 -- test reads from the controlled temp directory.
	got, err := os.ReadFile(art.Locator)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assertNoPartials(t, tempDir)
}

func TestSaveStreamMatchesSaveBytes(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	content := bytes.Repeat([]byte("chunk"), 10_000)
	a, err := store.SaveBytes(context.Background(), content, "https://example.com/a/b/c.docx", crawler.TypeDOCX)
	require.NoError(t, err)
	b, err := store.SaveStream(context.Background(), bytes.NewReader(content), "https://example.com/a/b/other.docx", crawler.TypeDOCX, -1)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSaveStreamKeepsHostsApart(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	a, err := store.SaveBytes(context.Background(), []byte("same"), "https://one.example/docs/x.pdf", crawler.TypePDF)
	require.NoError(t, err)
	b, err := store.SaveBytes(context.Background(), []byte("same"), "https://two.example/docs/x.pdf", crawler.TypePDF)
	require.NoError(t, err)

	assert.NotEqual(t, a.Locator, b.Locator)
	assert.Equal(t, a.SHA256, b.SHA256)
}

func TestSaveStreamDotSegmentsStayInside(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	art, err := store.SaveBytes(context.Background(), []byte("x"), "https://example.com/../../etc/passwd", crawler.TypeHTML)
	require.NoError(t, err)

	rel, err := filepath.Rel(store.BaseDir(), art.Locator)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("example.com", "etc", "passwd", filepath.Base(art.Locator)), rel)
}

type failingReader struct {
	sent bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset")
}

func TestSaveStreamFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	_, err = store.SaveStream(context.Background(), &failingReader{}, "https://example.com/docs/x.pdf", crawler.TypePDF, 100)
	require.Error(t, err)
	assert.NotErrorIs(t, err, crawler.ErrStorageWrite)
	assert.False(t, crawler.IsPermanent(err))

	assertNoPartials(t, tempDir)
	entries, err := os.ReadDir(filepath.Join(tempDir, "example.com", "docs"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveStreamUnwritableDirIsStorageError(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	// A file where the host directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "example.com"), []byte("x"), 0o600))

	_, err = store.SaveBytes(context.Background(), []byte("x"), "https://example.com/a.pdf", crawler.TypePDF)
	require.ErrorIs(t, err, crawler.ErrStorageWrite)
}

func assertNoPartials(t *testing.T, root string) {
	t.Helper()
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		assert.NotContains(t, d.Name(), ".partial-", path)
		return nil
	})
	require.NoError(t, err)
}
