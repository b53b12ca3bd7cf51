// Package collyfetcher implements crawler.HTMLFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/retry"
)

const maxRedirects = 10

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeouts  crawler.Timeouts
	Retry     crawler.RetryPolicy
	// MaxBodyBytes truncates bodies one byte past the per-item cap so the
	// caller can detect oversize pages. Zero leaves colly's default.
	MaxBodyBytes int64
	// RedirectGuard vets every redirect target before it is followed.
	RedirectGuard func(ctx context.Context, rawURL string) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
	Logger  *zap.Logger
}

// Fetcher implements crawler.HTMLFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	retrier       *retry.Executor
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
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

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = int(cfg.MaxBodyBytes + 1)
	}
	c.WithTransport(newHTTPTransport(cfg.Timeouts))
	c.SetRequestTimeout(cfg.Timeouts.Total)
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if cfg.RedirectGuard != nil {
			return cfg.RedirectGuard(req.Context(), req.URL.String())
		}
		return nil
	})

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
	f.retrier = retry.New(cfg.Retry, retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Debug("html_fetch_retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
	}))
	return f
}

// FetchHTML retrieves rawURL, retrying transient failures. Non-2xx
// responses surface as *crawler.HTTPStatusError once attempts run out.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL string) (crawler.HTMLPage, error) {
	return retry.Do(ctx, f.retrier, func(ctx context.Context) (crawler.HTMLPage, error) {
		return f.fetchOnce(ctx, rawURL)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (crawler.HTMLPage, error) {
	var (
		result   crawler.HTMLPage
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, rawURL, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.HTMLPage{}, err
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return crawler.HTMLPage{}, &crawler.HTTPStatusError{URL: rawURL, StatusCode: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	start time.Time,
	result *crawler.HTMLPage,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		finalURL := rawURL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = crawler.HTMLPage{
			URL:         rawURL,
			FinalURL:    finalURL,
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

// runCollector visits rawURL on a collector bound to ctx, so cancellation
// aborts the request itself. Hooks have run by the time Visit returns.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	err := collector.Visit(rawURL)
	if err == nil {
		err = *fetchErr
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("colly fetch canceled: %w", ctxErr)
	}
	if crawler.IsTimeout(err) {
		return fmt.Errorf("%w: %s: %v", crawler.ErrFetchTimeout, rawURL, err)
	}
	return fmt.Errorf("colly visit %s: %w", rawURL, err)
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
