// Package binary fetches document files over HTTP, switching to ordered
// byte-range requests for large resources on servers that support them.
package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/retry"
)

const maxRedirects = 10

// Config controls the fetcher.
type Config struct {
	UserAgent string
	Timeouts  crawler.Timeouts
	Retry     crawler.RetryPolicy
	// MultipartThreshold is the smallest declared length fetched in parts.
	// Zero disables multipart fetches.
	MultipartThreshold int64
	ChunkSize          int64
	// RedirectGuard vets every redirect target before it is followed.
	RedirectGuard func(ctx context.Context, rawURL string) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Fetcher implements crawler.BinaryFetcher.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	retrier *retry.Executor
	logger  *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeouts == (crawler.Timeouts{}) {
		cfg.Timeouts = crawler.DefaultTimeouts()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport(cfg.Timeouts)
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if cfg.RedirectGuard != nil {
				return cfg.RedirectGuard(req.Context(), req.URL.String())
			}
			return nil
		},
	}
	f := &Fetcher{cfg: cfg, client: client, logger: logger}
	f.retrier = retry.New(cfg.Retry, retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Debug("binary_fetch_retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
	}))
	return f
}

// FetchBinary sends a HEAD for rawURL and hands consume a lazy body. The HEAD, the
// transfer and consume are retried together, so a failure in any part
// restarts the whole fetch.
func (f *Fetcher) FetchBinary(ctx context.Context, rawURL string, consume crawler.ConsumeFunc) error {
	return f.retrier.Run(ctx, func(ctx context.Context) error {
		return f.attempt(ctx, rawURL, consume)
	})
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, consume crawler.ConsumeFunc) error {
	if f.cfg.Timeouts.Total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeouts.Total)
		defer cancel()
	}

	p, err := f.head(ctx, rawURL)
	if err != nil {
		return f.classify(rawURL, err)
	}
	ranges := planRanges(p.length, p.acceptRanges, f.cfg.MultipartThreshold, f.cfg.ChunkSize)
	body := &lazyBody{ctx: ctx, f: f, url: p.url, ranges: ranges}
	defer body.Close()

	if p.rejected {
		// The GET's headers stand in for the rejected HEAD.
		got, err := f.do(ctx, rawURL, nil)
		if err != nil {
			return f.classify(rawURL, err)
		}
		p.readHeaders(got)
		body.url = p.url
		body.cur, body.want = got.Body, -1
	}

	resp := &crawler.BinaryResponse{
		URL:         p.url,
		ContentType: p.contentType,
		Length:      p.length,
		Multipart:   len(ranges) > 0,
		Body:        body,
	}
	if err := consume(ctx, resp); err != nil {
		return f.classify(rawURL, err)
	}
	return nil
}

// classify tags deadline errors with crawler.ErrFetchTimeout.
func (f *Fetcher) classify(rawURL string, err error) error {
	if crawler.IsPermanent(err) || errors.Is(err, crawler.ErrFetchTimeout) {
		return err
	}
	if crawler.IsTimeout(err) {
		return fmt.Errorf("%w: %s: %v", crawler.ErrFetchTimeout, rawURL, err)
	}
	return err
}

type headResult struct {
	url          string
	contentType  string
	length       int64
	acceptRanges bool
	rejected     bool
}

// readHeaders takes the final URL, type and length from resp.
func (p *headResult) readHeaders(resp *http.Response) {
	if resp.Request != nil && resp.Request.URL != nil {
		p.url = resp.Request.URL.String()
	}
	if ct := strings.TrimSpace(resp.Header.Get("Content-Type")); ct != "" {
		p.contentType = ct
	}
	p.length = parseLength(resp.Header.Get("Content-Length"))
}

// head issues a HEAD request. A server that rejects HEAD yields a rejected
// result; the caller then reads the metadata off the GET instead.
func (f *Fetcher) head(ctx context.Context, rawURL string) (headResult, error) {
	out := headResult{url: rawURL, contentType: "application/octet-stream", length: -1}
	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return out, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("HEAD %s: %w", rawURL, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Debug("head_rejected", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		out.rejected = true
		return out, nil
	}
	out.readHeaders(resp)
	out.acceptRanges = strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes")
	return out, nil
}

func (f *Fetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crawler.ErrInvalidURL, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	return req, nil
}

// get opens one GET and returns its body. A non-nil rng requests bytes
// rng[0]..rng[1] and requires a 206 answer.
func (f *Fetcher) get(ctx context.Context, rawURL string, rng *byteRange) (io.ReadCloser, error) {
	resp, err := f.do(ctx, rawURL, rng)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string, rng *byteRange) (*http.Response, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		req.Header.Set("Range", rng.header())
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if rng != nil {
		ok = resp.StatusCode == http.StatusPartialContent
	}
	if !ok {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, &crawler.HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func parseLength(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func newHTTPTransport(t crawler.Timeouts) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   t.Connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
