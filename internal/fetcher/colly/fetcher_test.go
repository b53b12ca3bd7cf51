package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doccrawler/internal/crawler"
)

func testConfig() Config {
	return Config{
		UserAgent: "doccrawler-test",
		Timeouts:  crawler.Timeouts{Connect: time.Second, Read: 2 * time.Second, Total: 3 * time.Second},
		Retry:     crawler.RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond},
	}
}

func TestFetchHTMLReturnsBodyAndContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "doccrawler-test", r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><a href="/a">a</a></html>`))
	}))
	defer srv.Close()

	page, err := New(testConfig()).FetchHTML(context.Background(), srv.URL+"/docs/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", page.ContentType)
	assert.Contains(t, string(page.Body), `href="/a"`)
	assert.Equal(t, srv.URL+"/docs/", page.URL)
}

func TestFetchHTMLFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := New(testConfig()).FetchHTML(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, "moved", string(page.Body))
	assert.Equal(t, srv.URL+"/new", page.FinalURL)
}

func TestFetchHTMLRedirectGuard(t *testing.T) {
	t.Parallel()

	var followed atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/internal", http.StatusFound)
	})
	mux.HandleFunc("/internal", func(w http.ResponseWriter, _ *http.Request) {
		followed.Add(1)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig()
	cfg.RedirectGuard = func(_ context.Context, rawURL string) error {
		if strings.HasSuffix(rawURL, "/internal") {
			return crawler.ErrSSRFBlocked
		}
		return nil
	}
	_, err := New(cfg).FetchHTML(context.Background(), srv.URL+"/old")
	require.Error(t, err)
	assert.Zero(t, followed.Load())
}

func TestFetchHTMLRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var retries atomic.Int32
	cfg := testConfig()
	cfg.OnRetry = func(int, error) { retries.Add(1) }

	page, err := New(cfg).FetchHTML(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(page.Body))
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int32(2), retries.Load())
}

func TestFetchHTMLSurfacesStatusAfterExhaustion(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	_, err := New(testConfig()).FetchHTML(context.Background(), srv.URL+"/missing")
	require.ErrorIs(t, err, crawler.ErrFetchHTTP)
	var statusErr *crawler.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchHTMLTruncatesPastCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxBodyBytes = 100
	page, err := New(cfg).FetchHTML(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Body, 101)
}

func TestFetchHTMLCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig()).FetchHTML(ctx, "http://example.invalid/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchHTMLDeadlineAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Timeouts = crawler.Timeouts{Connect: time.Second, Read: 10 * time.Second, Total: 10 * time.Second}
	cfg.Retry.MaxAttempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := New(cfg).FetchHTML(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("request still in flight after FetchHTML returned")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(testConfig())
	var (
		result   crawler.HTMLPage
		fetchErr error
	)
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com/a", time.Now(), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/b")},
	})
	assert.Equal(t, "https://example.com/b", result.FinalURL)
	assert.Equal(t, "text/html", result.ContentType)
	assert.Equal(t, "body", string(result.Body))

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
