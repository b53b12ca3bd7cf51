package s3_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/storage/s3"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

type mockAPI struct {
	mock.Mock
	body []byte
}

func (m *mockAPI) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.body = body
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*awss3.PutObjectOutput)
	return out, args.Error(1)
}

func TestNewValidation(t *testing.T) {
	_, err := s3.New(nil, s3.Config{Bucket: "b"}, nil)
	assert.Error(t, err)
	_, err = s3.New(&mockAPI{}, s3.Config{}, nil)
	assert.Error(t, err)
}

func TestSaveStreamPutsContentAddressedKey(t *testing.T) {
	api := &mockAPI{}
	wantKey := "runs/example.com/docs/" + helloDigest[:16] + ".pdf"
	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *awss3.PutObjectInput) bool {
		return *in.Bucket == "docs-bucket" &&
			*in.Key == wantKey &&
			*in.ContentLength == 11 &&
			*in.ContentType == "application/pdf"
	})).Return(&awss3.PutObjectOutput{}, nil).Once()

	spool := t.TempDir()
	store, err := s3.New(api, s3.Config{Bucket: "docs-bucket", Prefix: "runs/", SpoolDir: spool}, nil)
	require.NoError(t, err)

	art, err := store.SaveStream(context.Background(), strings.NewReader("hello world"), "https://example.com/docs/x.pdf", crawler.TypePDF, -1)
	require.NoError(t, err)

	assert.Equal(t, "s3://docs-bucket/"+wantKey, art.Locator)
	assert.Equal(t, helloDigest, art.SHA256)
	assert.Equal(t, int64(11), art.Size)
	assert.Equal(t, "hello world", string(api.body))
	api.AssertExpectations(t)

	entries, err := os.ReadDir(spool)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveBytesMatchesSaveStream(t *testing.T) {
	api := &mockAPI{}
	var keys []string
	api.On("PutObject", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		keys = append(keys, *args.Get(1).(*awss3.PutObjectInput).Key)
	}).Return(&awss3.PutObjectOutput{}, nil).Twice()

	store, err := s3.New(api, s3.Config{Bucket: "b", SpoolDir: t.TempDir()}, nil)
	require.NoError(t, err)

	a, err := store.SaveBytes(context.Background(), []byte("same"), "https://example.com/a/b/c.docx", crawler.TypeDOCX)
	require.NoError(t, err)
	b, err := store.SaveStream(context.Background(), strings.NewReader("same"), "https://example.com/a/b/d.docx", crawler.TypeDOCX, 4)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestPutFailureIsStorageError(t *testing.T) {
	api := &mockAPI{}
	api.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("AccessDenied")).Once()

	store, err := s3.New(api, s3.Config{Bucket: "b", SpoolDir: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = store.SaveBytes(context.Background(), []byte("x"), "https://example.com/a.pdf", crawler.TypePDF)
	require.ErrorIs(t, err, crawler.ErrStorageWrite)
	assert.True(t, crawler.IsPermanent(err))
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestReadFailureSkipsUpload(t *testing.T) {
	api := &mockAPI{}
	store, err := s3.New(api, s3.Config{Bucket: "b", SpoolDir: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = store.SaveStream(context.Background(), brokenReader{}, "https://example.com/a.pdf", crawler.TypePDF, -1)
	require.Error(t, err)
	assert.False(t, crawler.IsPermanent(err))
	api.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}

func TestNewClientTalksToCompatibleEndpoint(t *testing.T) {
	var (
		mu          sync.Mutex
		method      string
		path        string
		contentType string
		body        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method, path, contentType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := s3.Config{
		Bucket:          "docs-bucket",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		SpoolDir:        t.TempDir(),
	}
	client, err := s3.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	store, err := s3.New(client, cfg, nil)
	require.NoError(t, err)

	art, err := store.SaveBytes(context.Background(), []byte("hello world"), "https://example.com/index.html", crawler.TypeHTML)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/docs-bucket/example.com/index.html/"+helloDigest[:16]+".html", path)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	assert.Equal(t, "hello world", string(body))
	assert.Equal(t, "s3://docs-bucket/example.com/index.html/"+helloDigest[:16]+".html", art.Locator)
}
